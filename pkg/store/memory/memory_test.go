package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/store"
)

type payload struct {
	Note  string  `json:"note"`
	Value float64 `json:"value"`
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	var missing payload
	ok, err := s.Load(ctx, "scalp", "positions", &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "scalp", "positions", payload{Note: "a", Value: 1.5}))
	var got payload
	ok, err = s.Load(ctx, "scalp", "positions", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Note: "a", Value: 1.5}, got)

	ok, err = s.Load(ctx, "momentum", "positions", &got)
	require.NoError(t, err)
	assert.False(t, ok, "owners are isolated")
}

func TestRecentNewestFirstWithSymbolFilter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { now = now.Add(time.Second); return now }))

	require.NoError(t, s.Append(ctx, store.KindDecision, "BTC", payload{Note: "one"}))
	require.NoError(t, s.Append(ctx, store.KindDecision, "ETH", payload{Note: "two"}))
	require.NoError(t, s.Append(ctx, store.KindDecision, "BTC", payload{Note: "three"}))
	require.NoError(t, s.Append(ctx, store.KindLesson, "BTC", payload{Note: "lesson"}))

	all, err := s.Recent(ctx, store.KindDecision, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	var first payload
	require.NoError(t, all[0].Decode(&first))
	assert.Equal(t, "three", first.Note)
	assert.True(t, all[0].At.After(all[1].At))

	btc, err := s.Recent(ctx, store.KindDecision, "BTC", 1)
	require.NoError(t, err)
	require.Len(t, btc, 1)
	assert.Equal(t, "BTC", btc[0].Symbol)

	_, err = s.Recent(ctx, store.Kind("bogus"), "", 1)
	assert.ErrorIs(t, err, store.ErrUnknownKind)
}
