package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"Clawboard/internal/core"
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/observability"
	"Clawboard/internal/projection"
	"Clawboard/internal/registry"
	"Clawboard/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MaxPageSize bounds leaderboard and event pages.
const MaxPageSize = 500

// ErrNoHistory is returned by history queries when no database is attached.
var ErrNoHistory = errors.New("history store not configured")

// Reader is the engine's read surface. Every call takes the engine's read
// lock, so each answer reflects a fully applied command.
type Reader interface {
	Head() core.Head
	TokenInfo() core.TokenInfo
	BalanceOf(account common.Address) *uint256.Int
	NativeBalanceOf(account common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	IsExcluded(account common.Address) bool
	GetAgent(externalID string) (*registry.Agent, bool, error)
	GetLeaderboard(offset, limit uint64) ([]*registry.Agent, error)
	AgentCount() uint64
	WalletToAgent(account common.Address) (common.Hash, bool)
	GetVaultInfo() vault.Info
	NAVPerToken() *uint256.Int
	CalculateMintOutput(reserveIn *uint256.Int) (*uint256.Int, error)
	CalculateRedeemOutput(tokenIn *uint256.Int) (*uint256.Int, error)
}

// Service answers reads. Current state comes from the engine; command and
// event history comes from the Postgres log written by the persistence
// worker (db may be nil, in which case history queries fail with
// ErrNoHistory).
type Service struct {
	engine  Reader
	db      *sql.DB
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(engine Reader, db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{engine: engine, db: db, metrics: metrics, now: time.Now}
}

// GetToken returns the token metadata and supply counters.
func (s *Service) GetToken(ctx context.Context) (resp *TokenResponse, err error) {
	defer s.observe("token", s.now(), &err)

	info := s.engine.TokenInfo()
	return &TokenResponse{
		Name:              info.Name,
		Symbol:            info.Symbol,
		Decimals:          info.Decimals,
		Owner:             info.Owner.Hex(),
		TeamWallet:        info.TeamWallet.Hex(),
		Vault:             info.Vault.Hex(),
		MaxSupply:         info.MaxSupply.Dec(),
		TotalMinted:       info.TotalMinted.Dec(),
		TotalBurned:       info.TotalBurned.Dec(),
		CirculatingSupply: info.CirculatingSupply.Dec(),
		TeamTaxRate:       info.TeamTaxRate,
		BurnTaxRate:       info.BurnTaxRate,
		AsOfSequence:      s.engine.Head().Sequence,
	}, nil
}

// GetAgent returns a registered agent or a NOT_FOUND error.
func (s *Service) GetAgent(ctx context.Context, externalID string) (resp *AgentResponse, err error) {
	defer s.observe("agent", s.now(), &err)

	if externalID == "" {
		return nil, cerrors.New(cerrors.CodeInvalidArgument, "agent id is required")
	}
	agent, found, err := s.engine.GetAgent(externalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cerrors.Newf(cerrors.CodeNotFound, "agent %q not found", externalID)
	}
	r := s.agentResponse(agent)
	return &r, nil
}

// GetLeaderboard returns agents in registration order within
// [offset, offset+limit). limit is clamped to MaxPageSize; zero yields an
// empty page with Total still set.
func (s *Service) GetLeaderboard(ctx context.Context, offset, limit uint64) (resp *LeaderboardResponse, err error) {
	defer s.observe("leaderboard", s.now(), &err)

	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	agents, err := s.engine.GetLeaderboard(offset, limit)
	if err != nil {
		return nil, err
	}

	resp = &LeaderboardResponse{
		Agents:       make([]AgentResponse, 0, len(agents)),
		Total:        s.engine.AgentCount(),
		Offset:       offset,
		AsOfSequence: s.engine.Head().Sequence,
	}
	for _, a := range agents {
		resp.Agents = append(resp.Agents, s.agentResponse(a))
	}
	return resp, nil
}

func (s *Service) agentResponse(a *registry.Agent) AgentResponse {
	return AgentResponse{
		ExternalID:    a.ExternalID,
		DisplayName:   a.DisplayName,
		Owner:         a.Owner.Hex(),
		Wallet:        a.Wallet.Hex(),
		WalletBalance: s.engine.BalanceOf(a.Wallet).Dec(),
		TipCount:      a.TipCount,
		RegisteredAt:  a.RegisteredAt,
		Active:        a.Active,
		AsOfSequence:  s.engine.Head().Sequence,
	}
}

// GetVaultInfo returns the vault's reserve, supply and NAV.
func (s *Service) GetVaultInfo(ctx context.Context) (resp *VaultResponse, err error) {
	defer s.observe("vault", s.now(), &err)

	info := s.engine.GetVaultInfo()
	return &VaultResponse{
		ReserveBalance:    info.ReserveBalance.Dec(),
		CirculatingSupply: info.CirculatingSupply.Dec(),
		MaxSupply:         info.MaxSupply.Dec(),
		TotalBurned:       info.TotalBurned.Dec(),
		NetValue:          info.NetValue.Dec(),
		TotalMinted:       info.TotalMinted.Dec(),
		TotalRedeemed:     info.TotalRedeemed.Dec(),
		NAVPerToken:       s.engine.NAVPerToken().Dec(),
		AsOfSequence:      s.engine.Head().Sequence,
	}, nil
}

// CalculateMintOutput previews the tokens a deposit of reserveIn would mint.
func (s *Service) CalculateMintOutput(ctx context.Context, reserveIn *uint256.Int) (resp *QuoteResponse, err error) {
	defer s.observe("mint_quote", s.now(), &err)

	out, err := s.engine.CalculateMintOutput(reserveIn)
	if err != nil {
		return nil, err
	}
	return s.quote(reserveIn, out), nil
}

// CalculateRedeemOutput previews the reserve a redemption of tokenIn would
// pay after the redemption fee.
func (s *Service) CalculateRedeemOutput(ctx context.Context, tokenIn *uint256.Int) (resp *QuoteResponse, err error) {
	defer s.observe("redeem_quote", s.now(), &err)

	out, err := s.engine.CalculateRedeemOutput(tokenIn)
	if err != nil {
		return nil, err
	}
	return s.quote(tokenIn, out), nil
}

func (s *Service) quote(in, out *uint256.Int) *QuoteResponse {
	if in == nil {
		in = new(uint256.Int)
	}
	return &QuoteResponse{Input: in.Dec(), Output: out.Dec(), AsOfSequence: s.engine.Head().Sequence}
}

// --- History (Postgres) ---

// GetCommand returns a persisted command and its events by request id.
func (s *Service) GetCommand(ctx context.Context, requestID uuid.UUID) (resp *CommandRecord, err error) {
	defer s.observe("command", s.now(), &err)

	if s.db == nil {
		return nil, ErrNoHistory
	}

	var (
		rec                 CommandRecord
		sender, state, prev []byte
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT sequence, request_id, command, sender, ts, state_hash, prev_hash
		FROM clawboard_commands
		WHERE request_id = $1
	`, requestID).Scan(&rec.Sequence, &rec.RequestID, &rec.Command, &sender, &rec.Timestamp, &state, &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerrors.Newf(cerrors.CodeNotFound, "command %s not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("query command: %w", err)
	}
	rec.Sender = common.BytesToAddress(sender).Hex()
	rec.StateHash = hex.EncodeToString(state)
	rec.PrevHash = hex.EncodeToString(prev)

	rec.Events, err = s.queryEvents(ctx, `
		SELECT sequence, log_index, event_type, payload, ts
		FROM clawboard_events
		WHERE sequence = $1
		ORDER BY log_index
	`, rec.Sequence)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetEvents returns events of eventType (all types when empty) with
// sequence greater than afterSequence, oldest first.
func (s *Service) GetEvents(ctx context.Context, eventType string, afterSequence int64, limit int) (resp []EventRecord, err error) {
	defer s.observe("events", s.now(), &err)

	if s.db == nil {
		return nil, ErrNoHistory
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := `
		SELECT sequence, log_index, event_type, payload, ts
		FROM clawboard_events
		WHERE sequence > $1
	`
	args := []interface{}{afterSequence}
	argIdx := 2

	if eventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, eventType)
		argIdx++
	}

	query += " ORDER BY sequence, log_index"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	return s.queryEvents(ctx, query, args...)
}

// GetTipHistory returns an agent's projected tips, newest first, older
// than beforeSequence when it is non-zero.
func (s *Service) GetTipHistory(ctx context.Context, externalID string, beforeSequence int64, limit int) (resp []projection.TipHistoryEntry, err error) {
	defer s.observe("tips", s.now(), &err)

	if externalID == "" {
		return nil, cerrors.New(cerrors.CodeInvalidArgument, "agent id is required")
	}
	if s.db == nil {
		return nil, ErrNoHistory
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	return projection.QueryByAgent(ctx, s.db, externalID, beforeSequence, limit)
}

func (s *Service) queryEvents(ctx context.Context, query string, args ...interface{}) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var (
			e       EventRecord
			payload []byte
		)
		if err := rows.Scan(&e.Sequence, &e.LogIndex, &e.EventType, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Payload = string(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain for breaks and sequence
// gaps, and that the log does not run ahead of the engine.
func (s *Service) VerifyIntegrity(ctx context.Context) (resp *IntegrityReport, err error) {
	defer s.observe("integrity", s.now(), &err)

	if s.db == nil {
		return nil, ErrNoHistory
	}
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c1.sequence, c2.sequence IS NULL
		FROM clawboard_commands c1
		LEFT JOIN clawboard_commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 1 AND (c2.sequence IS NULL OR c1.prev_hash != c2.state_hash)
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("query hash chain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq int64
			gap bool
		)
		if err := rows.Scan(&seq, &gap); err != nil {
			return nil, err
		}
		if gap {
			report.SequenceGaps = append(report.SequenceGaps, seq)
		} else {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM clawboard_commands
	`).Scan(&report.PersistedSequence); err != nil {
		return nil, fmt.Errorf("query persisted head: %w", err)
	}
	report.EngineSequence = s.engine.Head().Sequence

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		report.PersistedSequence <= report.EngineSequence
	return report, nil
}

// --- helpers ---

func (s *Service) observe(endpoint string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if *errp != nil {
		status = string(cerrors.CodeOf(*errp))
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(s.now().Sub(start).Seconds())
}
