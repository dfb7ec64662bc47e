package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/store"
)

func TestJournalStateAndLogs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	w.nowFn = func() time.Time { return time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, w.Save(ctx, "cooldown", "state", map[string]int{"daily": 3}))
	var state map[string]int
	ok, err := w.Load(ctx, "cooldown", "state", &state)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, state["daily"])

	require.NoError(t, w.Append(ctx, store.KindLesson, "ETH", map[string]string{"exit": "stop"}))
	require.NoError(t, w.Append(ctx, store.KindLesson, "BTC", map[string]string{"exit": "target"}))

	_, err = os.Stat(filepath.Join(dir, "lesson.jsonl"))
	require.NoError(t, err)

	got, err := w.Recent(ctx, store.KindLesson, "ETH", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
}

func TestJournalResumesSequence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, store.KindDecision, "BTC", "first"))
	require.NoError(t, w.Append(ctx, store.KindDecision, "BTC", "second"))

	reopened, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.Append(ctx, store.KindDecision, "BTC", "third"))

	got, err := reopened.Recent(ctx, store.KindDecision, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
	var text string
	require.NoError(t, got[0].Decode(&text))
	assert.Equal(t, "third", text)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitize("a/b.c"))
	assert.Equal(t, "_", sanitize(" "))
}
