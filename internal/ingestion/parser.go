package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Clawboard/internal/core"
	cerrors "Clawboard/internal/errors"
	fpmath "Clawboard/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SubjectPrefix is the NATS subject namespace for inbound commands:
// clawboard.commands.{CommandType}
const SubjectPrefix = "clawboard.commands."

// --- JSON wire format ---
// One flat object for every command; each type reads the fields it needs.
// Field names use snake_case to match upstream producers. Amounts are
// base-unit decimal strings, addresses 0x-prefixed hex.

type commandJSON struct {
	RequestID   string `json:"request_id"`
	Sender      string `json:"sender"`
	TimestampUs int64  `json:"timestamp_us"`

	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Spender string `json:"spender,omitempty"`
	Vault   string `json:"vault,omitempty"`
	Account string `json:"account,omitempty"`
	Wallet  string `json:"wallet,omitempty"`

	Amount   string `json:"amount,omitempty"`
	Value    string `json:"value,omitempty"`
	Excluded *bool  `json:"excluded,omitempty"`

	AgentID     string `json:"agent_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// CommandTypeFromSubject extracts the command type from a subject.
func CommandTypeFromSubject(subject string) (string, bool) {
	if !strings.HasPrefix(subject, SubjectPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(subject, SubjectPrefix)
	if name == "" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// ParseCommand converts JSON bytes + command type name into a typed command.
// Malformed input yields an INVALID_ARGUMENT error.
func ParseCommand(commandType string, data []byte) (core.Command, error) {
	ct, ok := core.ParseCommandType(commandType)
	if !ok {
		return nil, cerrors.Newf(cerrors.CodeInvalidArgument, "unknown command type: %s", commandType)
	}

	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, cerrors.Wrap(cerrors.CodeInvalidArgument, err, "parse "+commandType)
	}

	p := &fieldParser{}
	meta := core.Meta{
		RequestID: p.uuid("request_id", j.RequestID),
		Sender:    p.address("sender", j.Sender),
		Timestamp: p.timestamp(j.TimestampUs),
	}

	var cmd core.Command
	switch ct {
	case core.CommandTypeTransfer:
		cmd = &core.Transfer{Meta: meta, To: p.address("to", j.To), Amount: p.amount("amount", j.Amount)}
	case core.CommandTypeApprove:
		cmd = &core.Approve{Meta: meta, Spender: p.address("spender", j.Spender), Amount: p.amount("amount", j.Amount)}
	case core.CommandTypeTransferFrom:
		cmd = &core.TransferFrom{
			Meta:   meta,
			From:   p.address("from", j.From),
			To:     p.address("to", j.To),
			Amount: p.amount("amount", j.Amount),
		}
	case core.CommandTypeBurn:
		cmd = &core.Burn{Meta: meta, Amount: p.amount("amount", j.Amount)}
	case core.CommandTypeSetVault:
		cmd = &core.SetVault{Meta: meta, Vault: p.address("vault", j.Vault)}
	case core.CommandTypeSetExcluded:
		if j.Excluded == nil {
			p.fail("missing excluded")
		}
		cmd = &core.SetExcluded{Meta: meta, Account: p.address("account", j.Account), Excluded: j.Excluded != nil && *j.Excluded}
	case core.CommandTypeRegisterAgent:
		cmd = &core.RegisterAgent{Meta: meta, AgentID: p.agentID(j.AgentID), DisplayName: j.DisplayName}
	case core.CommandTypeUpdateAgentWallet:
		cmd = &core.UpdateAgentWallet{Meta: meta, AgentID: p.agentID(j.AgentID), Wallet: p.address("wallet", j.Wallet)}
	case core.CommandTypeTip:
		cmd = &core.Tip{Meta: meta, AgentID: p.agentID(j.AgentID), Amount: p.amount("amount", j.Amount)}
	case core.CommandTypeVaultMint:
		cmd = &core.VaultMint{Meta: meta, Value: p.amount("value", j.Value)}
	case core.CommandTypeVaultRedeem:
		cmd = &core.VaultRedeem{Meta: meta, Amount: p.amount("amount", j.Amount)}
	}

	if p.err != nil {
		return nil, cerrors.Wrap(cerrors.CodeInvalidArgument, p.err, "parse "+commandType)
	}
	return cmd, nil
}

// fieldParser keeps the first error so each field can be parsed inline.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *fieldParser) uuid(field, s string) uuid.UUID {
	if s == "" {
		p.fail("missing %s", field)
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		p.fail("parse %s: %v", field, err)
	}
	return id
}

func (p *fieldParser) address(field, s string) common.Address {
	if s == "" {
		p.fail("missing %s", field)
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		p.fail("parse %s: not a hex address: %q", field, s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *fieldParser) amount(field, s string) *uint256.Int {
	if s == "" {
		p.fail("missing %s", field)
		return new(uint256.Int)
	}
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		p.fail("parse %s: %v", field, err)
		return new(uint256.Int)
	}
	return v
}

func (p *fieldParser) timestamp(us int64) time.Time {
	if us <= 0 {
		p.fail("missing timestamp_us")
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func (p *fieldParser) agentID(s string) string {
	if s == "" {
		p.fail("missing agent_id")
	}
	return s
}

// EncodeCommand is the inverse of ParseCommand (used by clients and tests).
func EncodeCommand(cmd core.Command) ([]byte, error) {
	m := cmd.Metadata()
	j := commandJSON{
		RequestID:   m.RequestID.String(),
		Sender:      m.Sender.Hex(),
		TimestampUs: m.Timestamp.UnixMicro(),
	}

	switch c := cmd.(type) {
	case *core.Transfer:
		j.To, j.Amount = c.To.Hex(), dec(c.Amount)
	case *core.Approve:
		j.Spender, j.Amount = c.Spender.Hex(), dec(c.Amount)
	case *core.TransferFrom:
		j.From, j.To, j.Amount = c.From.Hex(), c.To.Hex(), dec(c.Amount)
	case *core.Burn:
		j.Amount = dec(c.Amount)
	case *core.SetVault:
		j.Vault = c.Vault.Hex()
	case *core.SetExcluded:
		excluded := c.Excluded
		j.Account, j.Excluded = c.Account.Hex(), &excluded
	case *core.RegisterAgent:
		j.AgentID, j.DisplayName = c.AgentID, c.DisplayName
	case *core.UpdateAgentWallet:
		j.AgentID, j.Wallet = c.AgentID, c.Wallet.Hex()
	case *core.Tip:
		j.AgentID, j.Amount = c.AgentID, dec(c.Amount)
	case *core.VaultMint:
		j.Value = dec(c.Value)
	case *core.VaultRedeem:
		j.Amount = dec(c.Amount)
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
	return json.Marshal(j)
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
