package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surehand-ai/surehand/internal/types"
)

// writeHostPortFile drops a discovery record pointing at port. Rewriting an
// existing file models a host restart.
func writeHostPortFile(t *testing.T, path string, port int) {
	t.Helper()
	payload := fmt.Sprintf(`{"port": %d, "pid": 4242}`, port)
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
}

func hostPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// hostMux serves the host protocol: a healthy health endpoint and a call
// endpoint answering every tool with the given result JSON.
func hostMux(result string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/host/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "ok", "pid": 4242}`)
	})
	mux.HandleFunc("/host/tools/call", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status": "success", "result": %s}`, result)
	})
	return mux
}

// startHost runs a fake tool host and returns a client discovering it
// through a port file in a temp dir.
func startHost(t *testing.T, handler http.Handler) (*Client, *httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	portPath := filepath.Join(t.TempDir(), "toolhost.port")
	writeHostPortFile(t, portPath, hostPort(t, srv))
	return NewClient(portPath), srv, portPath
}

func TestClientCallSuccess(t *testing.T) {
	var mu sync.Mutex
	var got callRequest

	client, _, _ := startHost(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/host/tools/call", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		mu.Lock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "success", "result": {"windows": ["Untitled - Notepad"]}}`)
	}))

	result, err := client.Call(context.Background(), "get_window_list", map[string]any{"visible_only": true})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "get_window_list", got.ToolName)
	assert.Equal(t, map[string]any{"visible_only": true}, got.Args)
	assert.Equal(t, []any{"Untitled - Notepad"}, result["windows"])
}

func TestClientCallToolError(t *testing.T) {
	client, _, _ := startHost(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "error", "error": "element is stale"}`)
	}))

	result, err := client.Call(context.Background(), "click_element", nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, types.IsCode(err, types.TOOL_CALL_FAILED))
	assert.Contains(t, err.Error(), "click_element")
	assert.Contains(t, err.Error(), "element is stale")
}

func TestClientCallRejectedByHost(t *testing.T) {
	client, _, _ := startHost(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Tool not found on host", http.StatusNotFound)
	}))

	_, err := client.Call(context.Background(), "no_such_tool", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.TOOL_CALL_FAILED))
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "Tool not found on host")
}

func TestClientRediscoversRestartedHost(t *testing.T) {
	client, first, portPath := startHost(t, hostMux(`{"generation": 1}`))

	// Prime the cached base URL, then kill the first host.
	require.NoError(t, client.Health(context.Background()))
	first.Close()

	var secondHits int32
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondHits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "success", "result": {"generation": 2}}`)
	}))
	defer second.Close()
	writeHostPortFile(t, portPath, hostPort(t, second))

	result, err := client.Call(context.Background(), "list_notes", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), result["generation"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondHits))
}

func TestClientUnavailableAfterRetry(t *testing.T) {
	// Closing a throwaway server yields a port nothing listens on.
	throwaway := httptest.NewServer(http.NotFoundHandler())
	deadPort := hostPort(t, throwaway)
	throwaway.Close()

	portPath := filepath.Join(t.TempDir(), "toolhost.port")
	writeHostPortFile(t, portPath, deadPort)
	client := NewClient(portPath)

	_, err := client.Call(context.Background(), "list_notes", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.TOOL_HOST_UNAVAILABLE))

	var agentErr *types.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.True(t, agentErr.Retryable)
}

func TestClientMissingPortFile(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.port"))

	err := client.Health(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.TOOL_HOST_UNAVAILABLE))
	assert.Contains(t, err.Error(), "port file")
}

func TestClientRejectsBadPortFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "listening on 8765"},
		{"port zero", `{"port": 0, "pid": 1}`},
		{"port out of range", `{"port": 99999, "pid": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "toolhost.port")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			err := NewClient(path).Health(context.Background())
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.TOOL_HOST_UNAVAILABLE))
		})
	}
}

func TestClientHealth(t *testing.T) {
	t.Run("healthy host", func(t *testing.T) {
		client, _, _ := startHost(t, hostMux(`{}`))
		assert.NoError(t, client.Health(context.Background()))
	})

	t.Run("host still starting", func(t *testing.T) {
		client, _, _ := startHost(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status": "starting"}`)
		}))

		err := client.Health(context.Background())
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.TOOL_HOST_UNAVAILABLE))
		assert.Contains(t, err.Error(), `"starting"`)
	})
}

func TestClientCanceledContext(t *testing.T) {
	var hits int32
	client, _, _ := startHost(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Call(ctx, "list_notes", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.TOOL_HOST_UNAVAILABLE))
	assert.Zero(t, atomic.LoadInt32(&hits))
}
