package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/control"
	"github.com/pickletour/courtlive/pkg/metrics"
	"github.com/pickletour/courtlive/pkg/overlay"
	"github.com/pickletour/courtlive/pkg/types"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultCountdownSteps = 3
	DefaultCountdownStep  = time.Second

	// notifications cover every platform of the session
	notifyPlatform = "all"
	notifyTimeout  = 10 * time.Second
)

var ErrLiveSessionRefused = errors.New("live session creation failed")

// MatchService is the part of the tournament backend the orchestrator uses.
type MatchService interface {
	CurrentMatch(ctx context.Context, court types.CourtID) (types.CourtMatch, error)
	CreateLiveSession(ctx context.Context, match types.MatchID) (types.LiveSession, error)
	NotifyStreamStarted(ctx context.Context, match types.MatchID, platform string) error
	NotifyStreamEnded(ctx context.Context, match types.MatchID, platform string) error
}

// Broadcaster is the session being driven.
type Broadcaster interface {
	Start(ctx context.Context, destinations []types.Destination, params types.EncodeParams) error
	Stop() error
	State() control.State
}

type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseMatchDetected
	PhaseSessionCreated
	PhaseArmed
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseMatchDetected:
		return "match-detected"
	case PhaseSessionCreated:
		return "session-created"
	case PhaseArmed:
		return "armed"
	case PhaseLive:
		return "live"
	}
	return "unknown"
}

type Config struct {
	Court          types.CourtID
	Auto           bool
	PollInterval   time.Duration
	CountdownSteps int
	CountdownStep  time.Duration
	Params         types.EncodeParams
}

// Orchestrator follows the match assigned to one court and starts or stops
// the broadcast to match it.
type Orchestrator struct {
	cfg     Config
	svc     MatchService
	session Broadcaster
	poller  *overlay.Poller
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	mu          sync.Mutex
	base        context.Context
	auto        bool
	phase       Phase
	status      string
	court       types.Court
	match       *types.Match
	lastMatch   types.MatchID
	armed       types.MatchID
	liveMatch   types.MatchID
	keys        types.LocalKeys
	cancelArm   context.CancelFunc
	onCountdown func(int)
}

func New(cfg Config, svc MatchService, session Broadcaster) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CountdownSteps <= 0 {
		cfg.CountdownSteps = DefaultCountdownSteps
	}
	if cfg.CountdownStep <= 0 {
		cfg.CountdownStep = DefaultCountdownStep
	}
	return &Orchestrator{
		cfg:         cfg,
		svc:         svc,
		session:     session,
		log:         logrus.StandardLogger(),
		base:        context.Background(),
		auto:        cfg.Auto,
		status:      "waiting for a match",
		onCountdown: func(int) {},
	}
}

func (o *Orchestrator) Name() string {
	return "auto"
}

func (o *Orchestrator) SetLogger(log logrus.FieldLogger) {
	o.log = log
}

func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
	m.SetAuto(o.Auto())
}

// SetOverlayPoller makes the overlay follow the court's current match.
func (o *Orchestrator) SetOverlayPoller(p *overlay.Poller) {
	o.poller = p
}

// OnCountdown receives each remaining step of an armed countdown, then 0 when
// the session is started.
func (o *Orchestrator) OnCountdown(fn func(int)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCountdown = fn
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Match is the match last reported for the court.
func (o *Orchestrator) Match() *types.Match {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.match == nil {
		return nil
	}
	m := *o.match
	return &m
}

func (o *Orchestrator) Court() types.Court {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.court
}

// LastKeys are the stream keys of the most recent live session.
func (o *Orchestrator) LastKeys() types.LocalKeys {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.keys
}

func (o *Orchestrator) Auto() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.auto
}

// SetAuto turns match following on or off. Turning it off cancels a pending
// countdown but leaves a running broadcast alone. Turning it on re-evaluates
// the current match on the next poll.
func (o *Orchestrator) SetAuto(enabled bool) {
	o.mu.Lock()
	o.auto = enabled
	if enabled {
		o.lastMatch = ""
		o.status = "auto mode on"
	} else {
		if o.cancelArm != nil {
			o.cancelArm()
			o.cancelArm = nil
			o.armed = ""
		}
		if o.phase != PhaseLive {
			o.phase = PhaseWaiting
		}
		o.status = "auto mode off"
	}
	o.mu.Unlock()

	o.metrics.SetAuto(enabled)
	o.log.WithField("auto", enabled).Info("Auto mode changed")
}

// Run polls immediately and then every PollInterval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.base = ctx
	o.mu.Unlock()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := o.Poll(ctx); err != nil {
			o.log.Warnf("poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			o.mu.Lock()
			if o.cancelArm != nil {
				o.cancelArm()
				o.cancelArm = nil
			}
			o.mu.Unlock()
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one iteration of the match watch.
func (o *Orchestrator) Poll(ctx context.Context) error {
	res, err := o.svc.CurrentMatch(ctx, o.cfg.Court)
	if err != nil {
		o.metrics.IncServiceError("current-match")
		return errors.Wrap(err, "current match")
	}

	o.mu.Lock()
	o.court = res.Court
	o.match = res.Match
	auto := o.auto
	o.mu.Unlock()

	if o.poller != nil {
		if res.Match != nil {
			o.poller.SetMatch(res.Match.ID)
		} else {
			o.poller.SetMatch("")
		}
	}

	o.checkSessionEnded()
	if !auto {
		return nil
	}

	m := res.Match
	if m == nil {
		o.mu.Lock()
		o.lastMatch = ""
		o.armed = ""
		if o.cancelArm != nil {
			o.cancelArm()
			o.cancelArm = nil
		}
		o.mu.Unlock()
		if o.streaming() {
			o.log.Info("Court has no match, stopping broadcast")
			o.teardown()
		}
		o.enter(PhaseWaiting, "waiting for the next match on "+res.Court.Name)
		return nil
	}

	o.mu.Lock()
	isNew := o.lastMatch != m.ID
	if isNew {
		o.lastMatch = m.ID
	}
	o.mu.Unlock()

	switch {
	case isNew && !m.Terminal():
		return o.handleNewMatch(ctx, *m)
	case m.Terminal():
		o.mu.Lock()
		wasArmed := o.cancelArm != nil
		if wasArmed {
			o.cancelArm()
			o.cancelArm = nil
		}
		o.armed = ""
		o.mu.Unlock()

		switch {
		case o.streaming():
			o.log.WithField("match", m.ID).Infof("Match is %s, stopping broadcast", m.Status)
			o.teardown()
			o.enter(PhaseWaiting, "match finished")
		case wasArmed:
			o.log.WithField("match", m.ID).Infof("Match is %s, cancelling countdown", m.Status)
			o.enter(PhaseWaiting, "match finished")
		}
	}
	return nil
}

func (o *Orchestrator) handleNewMatch(ctx context.Context, m types.Match) error {
	log := o.log.WithField("match", m.ID)

	o.mu.Lock()
	if o.armed == m.ID {
		o.mu.Unlock()
		return nil
	}
	o.armed = m.ID
	if o.cancelArm != nil {
		o.cancelArm()
		o.cancelArm = nil
	}
	o.mu.Unlock()

	o.enter(PhaseMatchDetected, "new match: "+m.Label())
	log.Info("New match on court")

	if o.streaming() {
		log.Info("Stopping broadcast of the previous match")
		o.teardown()
	}

	ls, err := o.svc.CreateLiveSession(ctx, m.ID)
	if err == nil && !ls.OK {
		err = ErrLiveSessionRefused
	}
	if err != nil {
		o.metrics.IncServiceError("create-live-session")
		o.mu.Lock()
		// let the next poll try again
		o.armed = ""
		o.lastMatch = ""
		o.mu.Unlock()
		o.enter(PhaseWaiting, "creating live session failed: "+err.Error())
		return errors.Wrapf(err, "create live session for %s", m.ID)
	}

	o.mu.Lock()
	o.keys = KeysFromLiveSession(ls)
	o.mu.Unlock()
	o.enter(PhaseSessionCreated, "live session created")

	destinations := DestinationsFromLiveSession(ls)
	if len(destinations) == 0 {
		log.Warn("Live session has no usable destinations")
		o.enter(PhaseWaiting, "no valid destinations in live session")
		return nil
	}
	o.arm(m.ID, destinations)
	return nil
}

// arm starts the countdown for a match.
func (o *Orchestrator) arm(match types.MatchID, destinations []types.Destination) {
	o.mu.Lock()
	if o.armed != match || !o.auto {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.base)
	o.cancelArm = cancel
	onCountdown := o.onCountdown
	o.phase = PhaseArmed
	o.mu.Unlock()

	o.metrics.IncMatchesArmed()
	o.log.WithFields(logrus.Fields{
		"match":        match,
		"destinations": len(destinations),
	}).Info("Armed countdown")

	go func() {
		defer cancel()
		for i := o.cfg.CountdownSteps; i >= 1; i-- {
			o.mu.Lock()
			if ctx.Err() != nil {
				o.mu.Unlock()
				return
			}
			o.phase = PhaseArmed
			o.status = fmt.Sprintf("starting in %d", i)
			o.mu.Unlock()
			onCountdown(i)
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.CountdownStep):
			}
		}

		o.mu.Lock()
		if ctx.Err() != nil || o.armed != match {
			o.mu.Unlock()
			return
		}
		o.cancelArm = nil
		o.mu.Unlock()
		onCountdown(0)

		if err := o.session.Start(ctx, destinations, o.cfg.Params); err != nil {
			o.log.WithField("match", match).Errorf("Auto start failed: %v", err)
			o.enter(PhaseWaiting, "start failed: "+err.Error())
			return
		}
		o.metrics.IncCountdownsFired()

		o.mu.Lock()
		o.liveMatch = match
		o.mu.Unlock()
		o.enter(PhaseLive, "live")
		o.notify(match, true)
	}()
}

// teardown stops the broadcast and reports the end of its match.
func (o *Orchestrator) teardown() {
	o.mu.Lock()
	match := o.liveMatch
	o.liveMatch = ""
	o.mu.Unlock()

	if err := o.session.Stop(); err != nil {
		o.log.Warnf("stopping broadcast: %v", err)
	}
	if match != "" {
		o.notify(match, false)
	}
}

// checkSessionEnded notices a broadcast that ended on its own, eg after the
// relay went away. The match is not re-armed.
func (o *Orchestrator) checkSessionEnded() {
	o.mu.Lock()
	match := o.liveMatch
	o.mu.Unlock()
	if match == "" || o.session.State() != control.StateIdle {
		return
	}

	o.mu.Lock()
	o.liveMatch = ""
	o.mu.Unlock()
	o.log.WithField("match", match).Warn("Broadcast ended without being stopped")
	o.notify(match, false)
	o.enter(PhaseWaiting, "broadcast ended")
}

func (o *Orchestrator) streaming() bool {
	return o.session.State() != control.StateIdle
}

// notify is fire and forget, failures are only logged.
func (o *Orchestrator) notify(match types.MatchID, started bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		var err error
		op := "notify-ended"
		if started {
			op = "notify-started"
			err = o.svc.NotifyStreamStarted(ctx, match, notifyPlatform)
		} else {
			err = o.svc.NotifyStreamEnded(ctx, match, notifyPlatform)
		}
		if err != nil {
			o.metrics.IncServiceError(op)
			o.log.WithField("match", match).Warnf("%s: %v", op, err)
		}
	}()
}

func (o *Orchestrator) enter(p Phase, status string) {
	o.mu.Lock()
	o.phase = p
	o.status = status
	o.mu.Unlock()
}
