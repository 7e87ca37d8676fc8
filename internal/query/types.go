package query

import "time"

// All amounts are base-unit decimal strings; uint256 values do not fit in a
// JSON number.

// TokenResponse is the token's metadata and supply counters.
type TokenResponse struct {
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	Decimals          uint8  `json:"decimals"`
	Owner             string `json:"owner"`
	TeamWallet        string `json:"team_wallet"`
	Vault             string `json:"vault"`
	MaxSupply         string `json:"max_supply"`
	TotalMinted       string `json:"total_minted"`
	TotalBurned       string `json:"total_burned"`
	CirculatingSupply string `json:"circulating_supply"`
	TeamTaxRate       uint64 `json:"team_tax_rate"`
	BurnTaxRate       uint64 `json:"burn_tax_rate"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// AgentResponse is one registry entry plus the balance of its receiving
// account.
type AgentResponse struct {
	ExternalID    string    `json:"external_id"`
	DisplayName   string    `json:"display_name"`
	Owner         string    `json:"owner"`
	Wallet        string    `json:"wallet"`
	WalletBalance string    `json:"wallet_balance"`
	TipCount      uint64    `json:"tip_count"`
	RegisteredAt  time.Time `json:"registered_at"`
	Active        bool      `json:"active"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// LeaderboardResponse is one page of agents in registration order.
type LeaderboardResponse struct {
	Agents       []AgentResponse `json:"agents"`
	Total        uint64          `json:"total"`
	Offset       uint64          `json:"offset"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// VaultResponse is the vault's aggregate view.
type VaultResponse struct {
	ReserveBalance    string `json:"reserve_balance"`
	CirculatingSupply string `json:"circulating_supply"`
	MaxSupply         string `json:"max_supply"`
	TotalBurned       string `json:"total_burned"`
	NetValue          string `json:"net_value"`
	TotalMinted       string `json:"total_minted"`
	TotalRedeemed     string `json:"total_redeemed"`
	NAVPerToken       string `json:"nav_per_token"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// QuoteResponse is the result of a mint or redeem preview.
type QuoteResponse struct {
	Input        string `json:"input"`
	Output       string `json:"output"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// CommandRecord is a persisted command with the events it produced.
type CommandRecord struct {
	Sequence  int64         `json:"sequence"`
	RequestID string        `json:"request_id"`
	Command   string        `json:"command"`
	Sender    string        `json:"sender"`
	Timestamp time.Time     `json:"timestamp"`
	StateHash string        `json:"state_hash"`
	PrevHash  string        `json:"prev_hash"`
	Events    []EventRecord `json:"events"`
}

// EventRecord is one persisted event.
type EventRecord struct {
	Sequence  int64     `json:"sequence"`
	LogIndex  int       `json:"log_index"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	// PersistedSequence trails EngineSequence while the writer catches up;
	// it must never lead.
	PersistedSequence int64 `json:"persisted_sequence"`
	EngineSequence    int64 `json:"engine_sequence"`
}
