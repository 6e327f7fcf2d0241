package overlay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/types"
)

var ErrOverlayFetch = errors.New("overlay fetch failed")

const DefaultPollInterval = time.Second

// SnapshotSource returns the raw overlay payload of a match.
type SnapshotSource interface {
	OverlaySnapshot(ctx context.Context, matchID types.MatchID) ([]byte, error)
}

// Poller keeps a Compositor fed with the overlay of the current match.
type Poller struct {
	source   SnapshotSource
	comp     *Compositor
	interval time.Duration
	log      logrus.FieldLogger

	mu       sync.Mutex
	match    types.MatchID
	inFlight atomic.Bool
	fetches  atomic.Int64
	failures atomic.Int64
}

func NewPoller(source SnapshotSource, comp *Compositor, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		comp:     comp,
		interval: interval,
		log:      logrus.StandardLogger(),
	}
}

func (p *Poller) SetLogger(log logrus.FieldLogger) {
	p.log = log
}

// SetMatch switches the polled match. An empty id pauses polling.
func (p *Poller) SetMatch(id types.MatchID) {
	p.mu.Lock()
	changed := p.match != id
	p.match = id
	p.mu.Unlock()

	if changed {
		p.comp.Reset()
		p.log.WithField("match", id).Debug("Overlay now following match")
	}
}

func (p *Poller) Match() types.MatchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.match
}

// Run polls until ctx is done. Ticks that land while a fetch is still running
// are skipped.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer p.inFlight.Store(false)
				if err := p.fetch(ctx); err != nil {
					p.log.Warn(err)
				}
			}()
		}
	}
}

// Fetch performs a single fetch unless one is already running.
func (p *Poller) Fetch(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer p.inFlight.Store(false)
	return p.fetch(ctx)
}

func (p *Poller) fetch(ctx context.Context) error {
	match := p.Match()
	if match == "" {
		return nil
	}
	p.fetches.Add(1)

	data, err := p.source.OverlaySnapshot(ctx, match)
	if err != nil {
		p.failures.Add(1)
		return errors.Wrapf(ErrOverlayFetch, "match %s: %v", match, err)
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		p.failures.Add(1)
		return errors.Wrapf(ErrOverlayFetch, "match %s: %v", match, err)
	}

	// The match may have changed while the request was out
	if p.Match() != match {
		return nil
	}
	p.comp.SetSnapshot(snap)
	return nil
}

// Stats returns the number of fetch attempts and failures so far.
func (p *Poller) Stats() (fetches, failures int64) {
	return p.fetches.Load(), p.failures.Load()
}
