package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surehand-ai/surehand/internal/types"
)

var allKinds = []types.StrategyKind{
	types.StrategySystem,
	types.StrategyAccessibility,
	types.StrategyOCR,
	types.StrategyVision,
	types.StrategyCoords,
}

func record(t *testing.T, store Store, app string, kind types.StrategyKind, success bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.RecordOutcome(context.Background(), app, kind, success))
	}
}

func TestOrderKeepsDefaultBelowSampleFloor(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	// Four samples, floor is five.
	record(t, store, "word.exe", types.StrategyVision, true, 4)

	got := ranker.Order(context.Background(), "word.exe", allKinds)
	assert.Equal(t, allKinds, got)
}

func TestOrderReordersMiddleBandBySuccessRate(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	record(t, store, "word.exe", types.StrategyAccessibility, false, 5)
	record(t, store, "word.exe", types.StrategyOCR, true, 5)

	got := ranker.Order(context.Background(), "word.exe", allKinds)
	want := []types.StrategyKind{
		types.StrategySystem,
		types.StrategyOCR,
		types.StrategyAccessibility,
		types.StrategyVision,
		types.StrategyCoords,
	}
	assert.Equal(t, want, got)
}

func TestOrderNeverPromotesCoordsOrDemotesSystem(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	// Coords has a perfect record and system a terrible one. Neither moves.
	record(t, store, "legacy.exe", types.StrategyCoords, true, 10)
	record(t, store, "legacy.exe", types.StrategySystem, false, 10)

	got := ranker.Order(context.Background(), "legacy.exe", allKinds)
	assert.Equal(t, types.StrategySystem, got[0])
	assert.Equal(t, types.StrategyCoords, got[len(got)-1])
}

func TestOrderPreservesRelativeOrderForUnprofiled(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	// Vision earns the top of the band. Accessibility and ocr have no
	// history and keep their input order behind it.
	record(t, store, "paint.exe", types.StrategyVision, true, 6)

	got := ranker.Order(context.Background(), "paint.exe", allKinds)
	want := []types.StrategyKind{
		types.StrategySystem,
		types.StrategyVision,
		types.StrategyAccessibility,
		types.StrategyOCR,
		types.StrategyCoords,
	}
	assert.Equal(t, want, got)
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	record(t, store, "word.exe", types.StrategyOCR, true, 5)

	input := []types.StrategyKind{types.StrategyAccessibility, types.StrategyOCR}
	got := ranker.Order(context.Background(), "word.exe", input)

	assert.Equal(t, []types.StrategyKind{types.StrategyAccessibility, types.StrategyOCR}, input)
	assert.Equal(t, []types.StrategyKind{types.StrategyOCR, types.StrategyAccessibility}, got)
}

func TestOrderHandlesPartialBands(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	record(t, store, "word.exe", types.StrategyVision, true, 5)
	record(t, store, "word.exe", types.StrategyAccessibility, false, 2)

	// A step that only supports two strategies still ranks within them.
	input := []types.StrategyKind{types.StrategyAccessibility, types.StrategyVision}
	got := ranker.Order(context.Background(), "word.exe", input)
	assert.Equal(t, []types.StrategyKind{types.StrategyVision, types.StrategyAccessibility}, got)
}

func TestOrderWithNilStoreOrEmptyApp(t *testing.T) {
	ranker := NewStrategyRanker(nil)
	got := ranker.Order(context.Background(), "word.exe", allKinds)
	assert.Equal(t, allKinds, got)

	withStore := NewStrategyRanker(NewMemoryStore())
	got = withStore.Order(context.Background(), "", allKinds)
	assert.Equal(t, allKinds, got)
}

func TestRecordOutcomeSkipsSensitiveWindows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store)

	ranker.RecordOutcome(ctx, "Login - Chase Bank", types.StrategyAccessibility, true)
	ranker.RecordOutcome(ctx, "Enter Password - 1Pass", types.StrategyOCR, true)

	stats, err := store.Stats(ctx, "Login - Chase Bank")
	require.NoError(t, err)
	assert.Empty(t, stats)

	ranker.RecordOutcome(ctx, "Untitled - Notepad", types.StrategyAccessibility, true)
	stats, err = store.Stats(ctx, "Untitled - Notepad")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Successes)
}

func TestSensitiveSurface(t *testing.T) {
	assert.True(t, SensitiveSurface("Sign in to your account"))
	assert.True(t, SensitiveSurface("MyBank - OTP verification"))
	assert.False(t, SensitiveSurface("Untitled - Notepad"))
	assert.False(t, SensitiveSurface(""))
}

func TestWithMinSamples(t *testing.T) {
	store := NewMemoryStore()
	ranker := NewStrategyRanker(store, WithMinSamples(2))

	record(t, store, "word.exe", types.StrategyOCR, true, 2)

	got := ranker.Order(context.Background(), "word.exe", allKinds)
	assert.Equal(t, types.StrategyOCR, got[1])
}
