package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]Entry
	fail    error
}

func (m *memSink) Write(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]Entry(nil), entries...))
	return m.fail
}

func (m *memSink) Close() error { return nil }

func (m *memSink) all() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func TestWriter_FlushesInOrder(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Record(Entry{Lobby: "general", Event: "UserJoined", User: "u1"})
	w.Record(Entry{Lobby: "general", Event: "GuessCorrect", User: "u1", Value: 7, Score: 1})

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got := sink.all()
	assert.Equal(t, "UserJoined", got[0].Event)
	assert.Equal(t, 7, got[1].Value)
	assert.Zero(t, w.Dropped())
}

func TestWriter_DropsWhenFull(t *testing.T) {
	w := NewWriter(&memSink{}, 1, nil)
	w.Record(Entry{Event: "a"}, Entry{Event: "b"}, Entry{Event: "c"})
	assert.Equal(t, int64(2), w.Dropped())
}

func TestWriter_FlushesQueueOnStop(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, 8, nil)
	w.Record(Entry{Event: "a"}, Entry{Event: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))

	assert.Len(t, sink.all(), 2)
}

func TestWriter_SinkErrorsDoNotStopIt(t *testing.T) {
	sink := &memSink{fail: errors.New("down")}
	w := NewWriter(sink, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Record(Entry{Event: "a"})
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 10*time.Millisecond)
	w.Record(Entry{Event: "b"})
	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{Kind: KindNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	_, err = Open(context.Background(), Options{Kind: "kafka"})
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestLobbyKey(t *testing.T) {
	assert.Equal(t, "guess:lobby:general:events", LobbyKey("general"))
}
