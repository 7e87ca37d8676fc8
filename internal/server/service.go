package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"Clawboard/internal/core"
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/projection"
	"Clawboard/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clawboard.v1.Clawboard"

// --- Messages ---

type ExecuteRequest struct {
	// Type is the command name, e.g. "Tip".
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ExecuteResponse struct {
	Sequence  int64       `json:"sequence"`
	Duplicate bool        `json:"duplicate"`
	StateHash string      `json:"state_hash,omitempty"`
	Events    []EventView `json:"events,omitempty"`
	Output    any         `json:"output,omitempty"`
}

type EventView struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type BalanceRequest struct {
	Account string `json:"account"`
}

type AllowanceRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type AgentRequest struct {
	AgentID string `json:"agent_id"`
}

type TipHistoryRequest struct {
	AgentID        string `json:"agent_id"`
	BeforeSequence int64  `json:"before_sequence"`
	Limit          int    `json:"limit"`
}

type TipHistoryResponse struct {
	Tips []projection.TipHistoryEntry `json:"tips"`
}

type LeaderboardRequest struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type QuoteRequest struct {
	// Amount is a base-unit decimal string.
	Amount string `json:"amount"`
}

type CommandRequest struct {
	RequestID string `json:"request_id"`
}

type EventsRequest struct {
	EventType     string `json:"event_type"`
	AfterSequence int64  `json:"after_sequence"`
	Limit         int    `json:"limit"`
}

type EventsResponse struct {
	Events []query.EventRecord `json:"events"`
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type Empty struct{}

// Snapshotter persists a full-state snapshot and returns its sequence.
type Snapshotter func(ctx context.Context) (int64, error)

// Submitter applies a JSON command of the named type.
type Submitter interface {
	Submit(ctx context.Context, commandType string, data []byte) (*core.Result, error)
}

// ClawboardServer is the server API for clawboard.v1.Clawboard.
type ClawboardServer interface {
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	BalanceOf(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	Allowance(context.Context, *AllowanceRequest) (*query.AllowanceResponse, error)
	GetToken(context.Context, *Empty) (*query.TokenResponse, error)
	GetAgent(context.Context, *AgentRequest) (*query.AgentResponse, error)
	GetLeaderboard(context.Context, *LeaderboardRequest) (*query.LeaderboardResponse, error)
	GetTipHistory(context.Context, *TipHistoryRequest) (*TipHistoryResponse, error)
	GetVaultInfo(context.Context, *Empty) (*query.VaultResponse, error)
	CalculateMintOutput(context.Context, *QuoteRequest) (*query.QuoteResponse, error)
	CalculateRedeemOutput(context.Context, *QuoteRequest) (*query.QuoteResponse, error)
	GetCommand(context.Context, *CommandRequest) (*query.CommandRecord, error)
	ListEvents(context.Context, *EventsRequest) (*EventsResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
}

// --- Implementation ---

// clawboardService adapts the query service and the submitter to the RPC
// surface. Methods return engine errors; the interceptor converts them to
// gRPC statuses and the HTTP gateway to JSON error bodies.
type clawboardService struct {
	query     *query.Service
	submitter Submitter
	snapshot  Snapshotter
}

// NewClawboardService builds the RPC implementation. snapshot may be nil.
func NewClawboardService(qs *query.Service, submitter Submitter, snapshot Snapshotter) ClawboardServer {
	return &clawboardService{query: qs, submitter: submitter, snapshot: snapshot}
}

func (s *clawboardService) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req.Type == "" {
		return nil, cerrors.New(cerrors.CodeInvalidArgument, "type is required")
	}
	res, err := s.submitter.Submit(ctx, req.Type, req.Payload)
	if err != nil {
		return nil, err
	}

	resp := &ExecuteResponse{Sequence: res.Sequence, Duplicate: res.Duplicate}
	if res.Duplicate {
		return resp, nil
	}
	resp.StateHash = hex.EncodeToString(res.StateHash[:])
	resp.Events = make([]EventView, len(res.Events))
	for i, e := range res.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", e.EventType(), err)
		}
		resp.Events[i] = EventView{Type: e.EventType().String(), Payload: payload}
	}
	switch out := res.Output.(type) {
	case *uint256.Int:
		resp.Output = out.Dec()
	default:
		resp.Output = out
	}
	return resp, nil
}

func (s *clawboardService) BalanceOf(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	return s.query.GetBalance(ctx, account)
}

func (s *clawboardService) Allowance(ctx context.Context, req *AllowanceRequest) (*query.AllowanceResponse, error) {
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		return nil, err
	}
	return s.query.GetAllowance(ctx, owner, spender)
}

func (s *clawboardService) GetToken(ctx context.Context, _ *Empty) (*query.TokenResponse, error) {
	return s.query.GetToken(ctx)
}

func (s *clawboardService) GetAgent(ctx context.Context, req *AgentRequest) (*query.AgentResponse, error) {
	return s.query.GetAgent(ctx, req.AgentID)
}

func (s *clawboardService) GetLeaderboard(ctx context.Context, req *LeaderboardRequest) (*query.LeaderboardResponse, error) {
	return s.query.GetLeaderboard(ctx, req.Offset, req.Limit)
}

func (s *clawboardService) GetTipHistory(ctx context.Context, req *TipHistoryRequest) (*TipHistoryResponse, error) {
	tips, err := s.query.GetTipHistory(ctx, req.AgentID, req.BeforeSequence, req.Limit)
	if err != nil {
		return nil, err
	}
	return &TipHistoryResponse{Tips: tips}, nil
}

func (s *clawboardService) GetVaultInfo(ctx context.Context, _ *Empty) (*query.VaultResponse, error) {
	return s.query.GetVaultInfo(ctx)
}

func (s *clawboardService) CalculateMintOutput(ctx context.Context, req *QuoteRequest) (*query.QuoteResponse, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return s.query.CalculateMintOutput(ctx, amount)
}

func (s *clawboardService) CalculateRedeemOutput(ctx context.Context, req *QuoteRequest) (*query.QuoteResponse, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return s.query.CalculateRedeemOutput(ctx, amount)
}

func (s *clawboardService) GetCommand(ctx context.Context, req *CommandRequest) (*query.CommandRecord, error) {
	id, err := uuid.Parse(req.RequestID)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.CodeInvalidArgument, err, "invalid request_id")
	}
	return s.query.GetCommand(ctx, id)
}

func (s *clawboardService) ListEvents(ctx context.Context, req *EventsRequest) (*EventsResponse, error) {
	events, err := s.query.GetEvents(ctx, req.EventType, req.AfterSequence, req.Limit)
	if err != nil {
		return nil, err
	}
	return &EventsResponse{Events: events}, nil
}

func (s *clawboardService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return s.query.VerifyIntegrity(ctx)
}

func (s *clawboardService) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.snapshot == nil {
		return nil, query.ErrNoHistory
	}
	seq, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, cerrors.Newf(cerrors.CodeInvalidArgument, "invalid %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.CodeInvalidArgument, err, "invalid amount")
	}
	return v, nil
}

// --- Service descriptor ---

func unaryHandler[Req any, Resp any](call func(ClawboardServer, context.Context, *Req) (Resp, error), method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClawboardServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ClawboardServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ClawboardServiceDesc is the grpc.ServiceDesc for clawboard.v1.Clawboard.
var ClawboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClawboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: unaryHandler(ClawboardServer.Execute, "Execute")},
		{MethodName: "BalanceOf", Handler: unaryHandler(ClawboardServer.BalanceOf, "BalanceOf")},
		{MethodName: "Allowance", Handler: unaryHandler(ClawboardServer.Allowance, "Allowance")},
		{MethodName: "GetToken", Handler: unaryHandler(ClawboardServer.GetToken, "GetToken")},
		{MethodName: "GetAgent", Handler: unaryHandler(ClawboardServer.GetAgent, "GetAgent")},
		{MethodName: "GetLeaderboard", Handler: unaryHandler(ClawboardServer.GetLeaderboard, "GetLeaderboard")},
		{MethodName: "GetTipHistory", Handler: unaryHandler(ClawboardServer.GetTipHistory, "GetTipHistory")},
		{MethodName: "GetVaultInfo", Handler: unaryHandler(ClawboardServer.GetVaultInfo, "GetVaultInfo")},
		{MethodName: "CalculateMintOutput", Handler: unaryHandler(ClawboardServer.CalculateMintOutput, "CalculateMintOutput")},
		{MethodName: "CalculateRedeemOutput", Handler: unaryHandler(ClawboardServer.CalculateRedeemOutput, "CalculateRedeemOutput")},
		{MethodName: "GetCommand", Handler: unaryHandler(ClawboardServer.GetCommand, "GetCommand")},
		{MethodName: "ListEvents", Handler: unaryHandler(ClawboardServer.ListEvents, "ListEvents")},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler(ClawboardServer.VerifyIntegrity, "VerifyIntegrity")},
		{MethodName: "TakeSnapshot", Handler: unaryHandler(ClawboardServer.TakeSnapshot, "TakeSnapshot")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clawboard/v1/clawboard.proto",
}

// RegisterClawboardServer registers srv on s.
func RegisterClawboardServer(s grpc.ServiceRegistrar, srv ClawboardServer) {
	s.RegisterService(&ClawboardServiceDesc, srv)
}

// Invoke calls method on a client connection using the JSON codec.
func Invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
