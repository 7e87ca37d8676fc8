package core

import (
	"container/list"
	"context"
	"time"

	"Clawboard/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tier2Checker is the durable dedup lookup (Postgres command log or Redis).
type Tier2Checker interface {
	IsDuplicate(ctx context.Context, requestID uuid.UUID) (bool, error)
}

// Tier2Recorder is implemented by tier-2 stores that are not fed by the
// persistence worker and must be told about applied requests (Redis).
type Tier2Recorder interface {
	MarkProcessed(ctx context.Context, requestID uuid.UUID) error
}

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: injected via interface
	tier2 Tier2Checker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIdempotencyChecker(capacity int, tier2 Tier2Checker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		tier2:   tier2,
		metrics: metrics,
		logger:  logger,
	}
}

// IsDuplicate checks if the request has been applied (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, command string, requestID uuid.UUID) bool {
	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(requestID) {
		ic.recordDuplicate(command, "lru")
		return true
	}

	if ic.tier2 == nil {
		return false
	}

	// Tier 2: durable check (cold path)
	start := time.Now()
	isDup, err := ic.tier2.IsDuplicate(ctx, requestID)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Conservative: a tier-2 outage must not block command processing.
		ic.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("tier-2 dedup lookup failed")
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}

	if isDup {
		ic.recordDuplicate(command, "tier2")
		// Add to LRU so we don't hit tier 2 again
		ic.add(requestID)
		return true
	}
	return false
}

// MarkProcessed adds the request to the LRU after a successful commit and
// forwards it to tier 2 when tier 2 records its own keys.
func (ic *IdempotencyChecker) MarkProcessed(ctx context.Context, requestID uuid.UUID) {
	ic.add(requestID)

	if rec, ok := ic.tier2.(Tier2Recorder); ok {
		if err := rec.MarkProcessed(ctx, requestID); err != nil {
			ic.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("tier-2 dedup record failed")
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
		}
	}
}

// Warm loads recently applied request ids (recovery).
func (ic *IdempotencyChecker) Warm(ids []uuid.UUID) {
	ic.lru.WarmFromKeys(ids)
	ic.updateGauges()
}

// RecentKeys returns the LRU contents, most recent first.
func (ic *IdempotencyChecker) RecentKeys() []uuid.UUID {
	return ic.lru.GetAllKeys()
}

func (ic *IdempotencyChecker) add(requestID uuid.UUID) {
	before := ic.lru.Evictions()
	ic.lru.Add(requestID)
	if ic.metrics != nil {
		if evicted := ic.lru.Evictions() - before; evicted > 0 {
			ic.metrics.DedupLRUEvictions.Add(float64(evicted))
		}
	}
	ic.updateGauges()
}

func (ic *IdempotencyChecker) updateGauges() {
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(command, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(command, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for request ids.
// Not thread-safe; only accessed by the engine while it holds its write lock.
type IdempotencyLRU struct {
	capacity int
	cache    map[uuid.UUID]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[uuid.UUID]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key uuid.UUID) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key uuid.UUID) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(key)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(uuid.UUID))
		lru.evictions++
	}
}

// WarmFromKeys loads keys ordered oldest first, so the newest end up at
// the front of the list.
func (lru *IdempotencyLRU) WarmFromKeys(keys []uuid.UUID) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns keys from most to least recently used.
func (lru *IdempotencyLRU) GetAllKeys() []uuid.UUID {
	keys := make([]uuid.UUID, 0, lru.lruList.Len())
	for e := lru.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(uuid.UUID))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
