package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surehand-ai/surehand/internal/types"
)

func TestTakeoverRequestAndResolve(t *testing.T) {
	m := NewTakeoverManager(nil)

	var notified *TakeoverRequest
	m.OnRequest(func(req *TakeoverRequest) { notified = req })

	req := m.Request(TakeoverSensitiveScreen, "password field detected", map[string]any{"window": "Login"})
	require.NotNil(t, req)
	assert.False(t, req.Resolved())
	assert.Same(t, req, notified)

	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, TakeoverSensitiveScreen, pending[0].Reason)
	assert.Equal(t, "Login", pending[0].Context["window"])

	require.NoError(t, m.Resolve(req.ID, "user typed the password"))
	assert.True(t, req.Resolved())
	assert.Empty(t, m.Pending())

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "user typed the password", history[0].Note)
}

func TestTakeoverResolveUnknownID(t *testing.T) {
	m := NewTakeoverManager(nil)

	err := m.Resolve(types.NewID(), "nothing pending")
	assert.Error(t, err)
}

func TestTakeoverPendingOrderedByAge(t *testing.T) {
	m := NewTakeoverManager(nil)

	first := m.Request(TakeoverError, "first", nil)
	time.Sleep(time.Millisecond)
	second := m.Request(TakeoverBudgetExceeded, "second", nil)

	pending := m.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}
