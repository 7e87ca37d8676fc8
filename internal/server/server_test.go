package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/ingestion"
	"Clawboard/internal/ledger"
	"Clawboard/internal/query"
	"Clawboard/internal/registry"
	"Clawboard/internal/server"
	"Clawboard/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func newService(t *testing.T) server.ClawboardServer {
	t.Helper()
	engine := core.NewEngine(core.Config{
		Ledger:      ledger.Config{Owner: owner, TeamWallet: common.HexToAddress("0xa2")},
		Registry:    registry.Config{Address: common.HexToAddress("0xa4")},
		Vault:       vault.Config{Address: vaultAddr},
		LRUCapacity: 64,
	}, nil, nil, nil, nil, zerolog.Nop())
	return server.NewClawboardService(
		query.NewService(engine, nil, nil),
		ingestion.NewSubmitter(engine, nil, zerolog.Nop()),
		nil,
	)
}

func commandBody(t *testing.T, sender common.Address, fields map[string]any) []byte {
	t.Helper()
	body := map[string]any{
		"request_id":   uuid.NewString(),
		"sender":       sender.Hex(),
		"timestamp_us": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMicro(),
	}
	for k, v := range fields {
		body[k] = v
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestGateway_CommandsAndReads(t *testing.T) {
	srv := server.New("", "", server.Deps{Service: newService(t), GatewayCommands: true, Logger: zerolog.Nop()})
	h, err := srv.Handler()
	require.NoError(t, err)

	code, out := do(t, h, "POST", "/v1/commands/SetVault", commandBody(t, owner, map[string]any{"vault": vaultAddr.Hex()}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), out["sequence"])

	code, out = do(t, h, "POST", "/v1/commands/VaultMint", commandBody(t, alice, map[string]any{"value": "1000000000000000000"}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000000000000000000000", out["output"])

	code, out = do(t, h, "GET", "/v1/balances/"+alice.Hex(), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000000000000000000000", out["balance"])
	require.Equal(t, float64(2), out["as_of_sequence"])

	code, out = do(t, h, "GET", "/v1/vault", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000000000000000000", out["reserve_balance"])

	code, out = do(t, h, "GET", "/v1/leaderboard?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(0), out["total"])

	code, _ = do(t, h, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestGateway_CommandsOffByDefault(t *testing.T) {
	srv := server.New("", "", server.Deps{Service: newService(t), Logger: zerolog.Nop()})
	h, err := srv.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/commands/SetVault",
		bytes.NewReader(commandBody(t, owner, map[string]any{"vault": vaultAddr.Hex()})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEqual(t, http.StatusOK, rec.Code)

	code, out := do(t, h, "GET", "/v1/token", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, common.Address{}.Hex(), out["vault"])
}

func TestGateway_ErrorMapping(t *testing.T) {
	srv := server.New("", "", server.Deps{Service: newService(t), GatewayCommands: true, Logger: zerolog.Nop()})
	h, err := srv.Handler()
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		body       []byte
		wantStatus int
		wantCode   string
	}{
		{"unknown agent", "GET", "/v1/agents/ghost", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad address", "GET", "/v1/balances/alice", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad limit", "GET", "/v1/leaderboard?limit=-1", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown command", "POST", "/v1/commands/Mint", commandBody(t, alice, nil), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"not owner", "POST", "/v1/commands/SetVault", commandBody(t, alice, map[string]any{"vault": vaultAddr.Hex()}), http.StatusForbidden, "UNAUTHORIZED"},
		{"no history", "GET", "/v1/admin/integrity", nil, http.StatusServiceUnavailable, "UNKNOWN"},
		{"no tip history", "GET", "/v1/agents/agent-1/tips?limit=5", nil, http.StatusServiceUnavailable, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, code)
			require.Equal(t, tt.wantCode, out["code"])
		})
	}
}

func TestGRPC_JSONCodec(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := server.New("", "", server.Deps{Service: newService(t), Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeGRPC(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	payload := commandBody(t, owner, map[string]any{"vault": vaultAddr.Hex()})
	res, err := server.Invoke[server.ExecuteResponse](ctx, conn, "Execute", &server.ExecuteRequest{Type: "SetVault", Payload: payload})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Sequence)
	require.Len(t, res.Events, 2)
	require.Equal(t, "VaultSet", res.Events[0].Type)

	res, err = server.Invoke[server.ExecuteResponse](ctx, conn, "Execute", &server.ExecuteRequest{Type: "SetVault", Payload: payload})
	require.NoError(t, err)
	require.True(t, res.Duplicate)

	bal, err := server.Invoke[query.BalanceResponse](ctx, conn, "BalanceOf", &server.BalanceRequest{Account: vaultAddr.Hex()})
	require.NoError(t, err)
	require.True(t, bal.Excluded)

	_, err = server.Invoke[query.AgentResponse](ctx, conn, "GetAgent", &server.AgentRequest{AgentID: "ghost"})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = server.Invoke[query.BalanceResponse](ctx, conn, "BalanceOf", &server.BalanceRequest{Account: "nope"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
