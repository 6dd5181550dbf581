package toolhost

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surehand-ai/surehand/internal/audit"
	"github.com/surehand-ai/surehand/internal/types"
)

func nopHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func readAuditRecords(t *testing.T, path string) []audit.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec audit.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "line %q", scanner.Text())
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestRouterLocalHandler(t *testing.T) {
	router := NewRouter()
	router.Register("summarize_notes", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"summary": "two meetings", "source": args["path"]}, nil
	})

	result, err := router.Call(context.Background(), "summarize_notes", map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "two meetings", result["summary"])
	assert.Equal(t, "notes.txt", result["source"])
}

func TestRouterPrefersLocalHandler(t *testing.T) {
	var remoteHits int32
	client, _, _ := startHost(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&remoteHits, 1)
	}))

	router := NewRouter(WithRemote(client))
	router.Register("ping", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"pong": true}, nil
	})

	result, err := router.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["pong"])
	assert.Zero(t, atomic.LoadInt32(&remoteHits))
}

func TestRouterRemoteFallback(t *testing.T) {
	client, _, _ := startHost(t, hostMux(`{"rows": 3}`))
	router := NewRouter(WithRemote(client))

	result, err := router.Call(context.Background(), "query_spreadsheet", map[string]any{"sheet": "Q3"})
	require.NoError(t, err)
	assert.Equal(t, float64(3), result["rows"])
}

func TestRouterUnknownTool(t *testing.T) {
	router := NewRouter()

	_, err := router.Call(context.Background(), "teleport", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.TOOL_CALL_FAILED))
	assert.Contains(t, err.Error(), "tool not found: teleport")
}

func TestRouterRateLimit(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(auditPath)
	require.NoError(t, err)
	defer log.Close()

	router := NewRouter(WithRateLimit(1), WithAudit(log))
	router.Register("wait", nopHandler)

	_, err = router.Call(context.Background(), "wait", nil)
	require.NoError(t, err)

	_, err = router.Call(context.Background(), "wait", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.TOOL_CALL_FAILED))
	assert.Contains(t, err.Error(), "rate limit exceeded: max 1 requests per minute")

	records := readAuditRecords(t, auditPath)
	require.Len(t, records, 2)
	assert.Equal(t, "success", records[0].Status)
	assert.Equal(t, "rate_limited", records[1].Status)
	assert.Equal(t, "wait", records[1].Tool)
}

func TestRouterAuditTrail(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(auditPath)
	require.NoError(t, err)
	defer log.Close()

	router := NewRouter(WithAudit(log))
	router.Register("read_text", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"text": "hello"}, nil
	})
	router.Register("flaky", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("window vanished")
	})

	_, err = router.Call(context.Background(), "read_text", nil)
	require.NoError(t, err)
	_, err = router.Call(context.Background(), "flaky", nil)
	require.Error(t, err)

	records := readAuditRecords(t, auditPath)
	require.Len(t, records, 2)

	assert.Equal(t, "read_text", records[0].Tool)
	assert.Equal(t, "success", records[0].Status)
	assert.Empty(t, records[0].Error)

	assert.Equal(t, "flaky", records[1].Tool)
	assert.Equal(t, "error", records[1].Status)
	assert.Contains(t, records[1].Error, "window vanished")
}

func TestRouterTools(t *testing.T) {
	router := NewRouter()
	router.Register("wait", nopHandler)
	router.Register("read_text", nopHandler)

	assert.Equal(t, []string{"read_text", "wait"}, router.Tools())
}
