package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	cerrors "Clawboard/internal/errors"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxCommandBody = 64 << 10

const commandRoute = "/v1/commands/{type}"

// defaultLeaderboardLimit applies when the limit query parameter is absent.
const defaultLeaderboardLimit = 100

// NewGatewayMux maps the HTTP/JSON routes onto the service in-process.
//
//	GET  /v1/token
//	GET  /v1/balances/{account}
//	GET  /v1/allowances/{owner}/{spender}
//	GET  /v1/agents/{id}
//	GET  /v1/agents/{id}/tips?before_sequence=&limit=
//	GET  /v1/leaderboard?offset=&limit=
//	GET  /v1/vault
//	GET  /v1/quotes/mint?amount=
//	GET  /v1/quotes/redeem?amount=
//	POST /v1/commands/{type}
//	GET  /v1/commands/{request_id}
//	GET  /v1/events?event_type=&after_sequence=&limit=
//	GET  /v1/admin/integrity
//	POST /v1/admin/snapshots
//
// POST /v1/commands is only mounted when allowCommands is set: the sender in
// a command body is trusted, so writes over HTTP are for deployments where
// the gateway sits behind the same boundary as the command bus.
func NewGatewayMux(svc ClawboardServer, allowCommands bool) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		handler         func(*http.Request, map[string]string) (any, error)
	}{
		{"GET", "/v1/token", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.GetToken(r.Context(), &Empty{})
		}},
		{"GET", "/v1/balances/{account}", func(r *http.Request, p map[string]string) (any, error) {
			return svc.BalanceOf(r.Context(), &BalanceRequest{Account: p["account"]})
		}},
		{"GET", "/v1/allowances/{owner}/{spender}", func(r *http.Request, p map[string]string) (any, error) {
			return svc.Allowance(r.Context(), &AllowanceRequest{Owner: p["owner"], Spender: p["spender"]})
		}},
		{"GET", "/v1/agents/{id}", func(r *http.Request, p map[string]string) (any, error) {
			return svc.GetAgent(r.Context(), &AgentRequest{AgentID: p["id"]})
		}},
		{"GET", "/v1/agents/{id}/tips", func(r *http.Request, p map[string]string) (any, error) {
			before, err := queryUint(r, "before_sequence")
			if err != nil {
				return nil, err
			}
			limit, err := queryUint(r, "limit")
			if err != nil {
				return nil, err
			}
			return svc.GetTipHistory(r.Context(), &TipHistoryRequest{
				AgentID:        p["id"],
				BeforeSequence: int64(before),
				Limit:          int(limit),
			})
		}},
		{"GET", "/v1/leaderboard", func(r *http.Request, _ map[string]string) (any, error) {
			offset, err := queryUint(r, "offset")
			if err != nil {
				return nil, err
			}
			limit, err := queryUint(r, "limit")
			if err != nil {
				return nil, err
			}
			if !r.URL.Query().Has("limit") {
				limit = defaultLeaderboardLimit
			}
			return svc.GetLeaderboard(r.Context(), &LeaderboardRequest{Offset: offset, Limit: limit})
		}},
		{"GET", "/v1/vault", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.GetVaultInfo(r.Context(), &Empty{})
		}},
		{"GET", "/v1/quotes/mint", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.CalculateMintOutput(r.Context(), &QuoteRequest{Amount: r.URL.Query().Get("amount")})
		}},
		{"GET", "/v1/quotes/redeem", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.CalculateRedeemOutput(r.Context(), &QuoteRequest{Amount: r.URL.Query().Get("amount")})
		}},
		{"POST", commandRoute, func(r *http.Request, p map[string]string) (any, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
			if err != nil {
				return nil, cerrors.Wrap(cerrors.CodeInvalidArgument, err, "read body")
			}
			return svc.Execute(r.Context(), &ExecuteRequest{Type: p["type"], Payload: body})
		}},
		{"GET", "/v1/commands/{request_id}", func(r *http.Request, p map[string]string) (any, error) {
			return svc.GetCommand(r.Context(), &CommandRequest{RequestID: p["request_id"]})
		}},
		{"GET", "/v1/events", func(r *http.Request, _ map[string]string) (any, error) {
			after, err := queryUint(r, "after_sequence")
			if err != nil {
				return nil, err
			}
			limit, err := queryUint(r, "limit")
			if err != nil {
				return nil, err
			}
			return svc.ListEvents(r.Context(), &EventsRequest{
				EventType:     r.URL.Query().Get("event_type"),
				AfterSequence: int64(after),
				Limit:         int(limit),
			})
		}},
		{"GET", "/v1/admin/integrity", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.VerifyIntegrity(r.Context(), &Empty{})
		}},
		{"POST", "/v1/admin/snapshots", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.TakeSnapshot(r.Context(), &Empty{})
		}},
	}

	for _, rt := range routes {
		if rt.pattern == commandRoute && !allowCommands {
			continue
		}
		handler := rt.handler
		if err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := handler(r, params)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		}); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 63)
	if err != nil {
		return 0, cerrors.Newf(cerrors.CodeInvalidArgument, "invalid %s: %q", name, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}
