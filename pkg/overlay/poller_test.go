package overlay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickletour/courtlive/pkg/types"
)

type fakeSource struct {
	mu      sync.Mutex
	payload []byte
	err     error
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeSource) OverlaySnapshot(ctx context.Context, matchID types.MatchID) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, f.err
}

func (f *fakeSource) set(payload []byte, err error) {
	f.mu.Lock()
	f.payload, f.err = payload, err
	f.mu.Unlock()
}

func TestPollerKeepsSnapshotOnFailure(t *testing.T) {
	assert := assert.New(t)
	src := &fakeSource{payload: []byte(snapshotJSON)}
	comp := NewCompositor()
	p := NewPoller(src, comp, time.Second)

	// nothing to fetch without a match
	require.NoError(t, p.Fetch(context.Background()))
	assert.EqualValues(0, src.calls.Load())

	p.SetMatch("m1")
	require.NoError(t, p.Fetch(context.Background()))
	snap := comp.Snapshot()
	require.NotNil(t, snap)
	assert.Equal("Spring Open", snap.TournamentName)

	src.set(nil, errors.New("502 bad gateway"))
	err := p.Fetch(context.Background())
	assert.ErrorIs(err, ErrOverlayFetch)
	assert.Same(snap, comp.Snapshot())

	src.set([]byte(`not json`), nil)
	assert.ErrorIs(p.Fetch(context.Background()), ErrOverlayFetch)
	assert.Same(snap, comp.Snapshot())

	fetches, failures := p.Stats()
	assert.EqualValues(3, fetches)
	assert.EqualValues(2, failures)

	p.SetMatch("m2")
	assert.Nil(comp.Snapshot())
}

func TestPollerCollapsesOverlappingFetches(t *testing.T) {
	assert := assert.New(t)
	src := &fakeSource{payload: []byte(snapshotJSON), block: make(chan struct{})}
	p := NewPoller(src, NewCompositor(), 10*time.Millisecond)
	p.SetMatch("m1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// many ticks pass while the first request hangs
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(1, src.calls.Load())
	assert.NoError(p.Fetch(ctx))
	assert.EqualValues(1, src.calls.Load())

	close(src.block)
	assert.Eventually(func() bool { return src.calls.Load() > 1 }, time.Second, 10*time.Millisecond)
}
