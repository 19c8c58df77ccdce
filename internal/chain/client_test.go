package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgchain "github.com/chainwatch/core/pkg/chain"
	"github.com/chainwatch/core/pkg/config"
)

// stubHeaderJSON returns the minimal go-ethereum header JSON fields needed
// for a successful eth_getBlockByNumber unmarshal, following the field set
// go-ethereum/core/types.Header requires to be present.
func stubHeaderJSON(number uint64) map[string]any {
	numHex := "0x0"
	if number > 0 {
		numHex = fmtHex(number)
	}
	return map[string]any{
		"number":           numHex,
		"hash":             "0x" + repeatHex("ab", 32),
		"parentHash":       "0x" + repeatHex("00", 32),
		"sha3Uncles":       "0x" + repeatHex("00", 32),
		"miner":            "0x0000000000000000000000000000000000000000",
		"stateRoot":        "0x" + repeatHex("00", 32),
		"transactionsRoot": "0x" + repeatHex("00", 32),
		"receiptsRoot":     "0x" + repeatHex("00", 32),
		"logsBloom":        "0x" + repeatHex("00", 256),
		"difficulty":       "0x0",
		"gasLimit":         "0x1c9c380",
		"gasUsed":          "0x0",
		"timestamp":        "0x0",
		"extraData":        "0x",
		"mixHash":          "0x" + repeatHex("00", 32),
		"nonce":            "0x0000000000000000",
	}
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

func fmtHex(n uint64) string {
	const hexDigits = "0123456789abcdef"
	if n == 0 {
		return "0x0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{hexDigits[n%16]}, buf...)
		n /= 16
	}
	return "0x" + string(buf)
}

// rpcServer builds an httptest server that answers eth_getBlockByNumber
// JSON-RPC calls using resolve to pick the header for the requested tag,
// the way vietddude-watcher's HTTP provider tests mock a JSON-RPC peer.
func rpcServer(t *testing.T, resolve func(tag string) (map[string]any, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(req.ID)}

		switch req.Method {
		case "eth_getBlockByNumber":
			tag, _ := req.Params[0].(string)
			header, ok := resolve(tag)
			if !ok {
				resp["result"] = nil
			} else {
				resp["result"] = header
			}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestGetChainHead_FinalizedTag(t *testing.T) {
	server := rpcServer(t, func(tag string) (map[string]any, bool) {
		if tag == "finalized" {
			return stubHeaderJSON(42), true
		}
		return nil, false
	})
	defer server.Close()

	client, err := New(context.Background(), config.ChainConfig{RPCURL: server.URL, Finality: "finalized"})
	require.NoError(t, err)
	defer client.Close()

	header, err := client.GetChainHead(context.Background())
	require.NoError(t, err)
	require.NotNil(t, header)
	require.Equal(t, uint64(42), header.Number.Uint64())
}

func TestGetChainHead_LatestMinusFinalizedLag(t *testing.T) {
	server := rpcServer(t, func(tag string) (map[string]any, bool) {
		switch tag {
		case "latest":
			return stubHeaderJSON(100), true
		case fmtHex(90):
			return stubHeaderJSON(90), true
		}
		return nil, false
	})
	defer server.Close()

	client, err := New(context.Background(), config.ChainConfig{RPCURL: server.URL, Finality: "latest", FinalizedLag: 10})
	require.NoError(t, err)
	defer client.Close()

	header, err := client.GetChainHead(context.Background())
	require.NoError(t, err)
	require.NotNil(t, header)
	require.Equal(t, uint64(90), header.Number.Uint64())
}

func TestGetChainHead_LatestFallsBackToGenesisWhenShallowerThanLag(t *testing.T) {
	server := rpcServer(t, func(tag string) (map[string]any, bool) {
		switch tag {
		case "latest":
			return stubHeaderJSON(5), true
		case "0x0":
			return stubHeaderJSON(0), true
		}
		return nil, false
	})
	defer server.Close()

	client, err := New(context.Background(), config.ChainConfig{RPCURL: server.URL, Finality: "latest", FinalizedLag: 10})
	require.NoError(t, err)
	defer client.Close()

	header, err := client.GetChainHead(context.Background())
	require.NoError(t, err)
	require.NotNil(t, header)
	require.Equal(t, uint64(0), header.Number.Uint64())
}

func TestGetChainHead_UnknownFinalityErrors(t *testing.T) {
	server := rpcServer(t, func(string) (map[string]any, bool) { return nil, false })
	defer server.Close()

	client, err := New(context.Background(), config.ChainConfig{RPCURL: server.URL, Finality: "bogus"})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.GetChainHead(context.Background())
	require.Error(t, err)
}

func TestClientImplementsInterface(t *testing.T) {
	var _ pkgchain.Client = (*Client)(nil)
}
