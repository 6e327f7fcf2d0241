package orchestrator_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickletour/courtlive/pkg/capture"
	"github.com/pickletour/courtlive/pkg/control"
	"github.com/pickletour/courtlive/pkg/encoder"
	"github.com/pickletour/courtlive/pkg/h264"
	"github.com/pickletour/courtlive/pkg/orchestrator"
	"github.com/pickletour/courtlive/pkg/overlay"
	"github.com/pickletour/courtlive/pkg/relay/relaytest"
	"github.com/pickletour/courtlive/pkg/types"
)

var hd = types.EncodeParams{Width: 1280, Height: 720, FPS: 30, VideoBitrateKbps: 2500}

type fakeService struct {
	mu       sync.Mutex
	match    *types.Match
	created  []types.MatchID
	started  []types.MatchID
	ended    []types.MatchID
	platform []string
	block    chan struct{}
	failNext error
}

func (f *fakeService) setMatch(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		f.match = nil
		return
	}
	f.match = &types.Match{ID: types.MatchID(id), Status: status}
}

func (f *fakeService) CurrentMatch(ctx context.Context, court types.CourtID) (types.CourtMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := types.CourtMatch{Court: types.Court{ID: court, Name: "Court 1"}}
	if f.match != nil {
		m := *f.match
		res.Match = &m
	}
	return res, nil
}

func (f *fakeService) CreateLiveSession(ctx context.Context, match types.MatchID) (types.LiveSession, error) {
	f.mu.Lock()
	f.created = append(f.created, match)
	block, fail := f.block, f.failNext
	f.failNext = nil
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail != nil {
		return types.LiveSession{}, fail
	}
	return types.LiveSession{
		OK: true,
		Platforms: map[string]types.PlatformLive{
			"facebook": {Live: &types.Destination{ServerURL: orchestrator.FacebookServer, StreamKey: "FB-" + string(match)}},
		},
	}, nil
}

func (f *fakeService) NotifyStreamStarted(ctx context.Context, match types.MatchID, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, match)
	f.platform = append(f.platform, platform)
	return nil
}

func (f *fakeService) NotifyStreamEnded(ctx context.Context, match types.MatchID, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, match)
	f.platform = append(f.platform, platform)
	return nil
}

func (f *fakeService) OverlaySnapshot(ctx context.Context, match types.MatchID) ([]byte, error) {
	return []byte(`{"teams": {"A": {"name": "` + string(match) + `"}}}`), nil
}

func (f *fakeService) snapshot() (created, started, ended []types.MatchID, platforms []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.MatchID(nil), f.created...),
		append([]types.MatchID(nil), f.started...),
		append([]types.MatchID(nil), f.ended...),
		append([]string(nil), f.platform...)
}

type fakeSession struct {
	mu     sync.Mutex
	state  control.State
	starts [][]types.Destination
	params []types.EncodeParams
	stops  int
}

func (f *fakeSession) Start(ctx context.Context, d []types.Destination, p types.EncodeParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != control.StateIdle {
		return nil
	}
	f.starts = append(f.starts, d)
	f.params = append(f.params, p)
	f.state = control.StateLive
	return nil
}

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != control.StateIdle {
		f.stops++
	}
	f.state = control.StateIdle
	return nil
}

func (f *fakeSession) State() control.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts), f.stops
}

type countdownLog struct {
	mu    sync.Mutex
	steps []int
}

func (c *countdownLog) record(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, i)
}

func (c *countdownLog) get() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.steps...)
}

func newOrchestrator(svc orchestrator.MatchService, session orchestrator.Broadcaster) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Config{
		Court:         "court-1",
		Auto:          true,
		CountdownStep: 5 * time.Millisecond,
		Params:        hd,
	}, svc, session)
}

func TestArmOnce(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{block: make(chan struct{})}
	svc.setMatch("m1", "scheduled")
	session := &fakeSession{}
	o := newOrchestrator(svc, session)
	countdown := &countdownLog{}
	o.OnCountdown(countdown.record)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Poll(context.Background())
		}()
	}
	require.Eventually(t, func() bool {
		created, _, _, _ := svc.snapshot()
		return len(created) == 1
	}, time.Second, time.Millisecond)
	close(svc.block)
	wg.Wait()

	// a late duplicate detection
	require.NoError(t, o.Poll(context.Background()))

	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseLive }, time.Second, time.Millisecond)
	created, _, _, _ := svc.snapshot()
	assert.Len(created, 1)
	starts, _ := session.counts()
	assert.Equal(1, starts)
	assert.Equal([]int{3, 2, 1, 0}, countdown.get())
}

func TestScenarioNoMatchThenMatch(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{}
	session := &fakeSession{}
	o := newOrchestrator(svc, session)
	countdown := &countdownLog{}
	o.OnCountdown(countdown.record)

	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(orchestrator.PhaseWaiting, o.Phase())
	created, _, _, _ := svc.snapshot()
	assert.Empty(created)

	svc.setMatch("M1", "scheduled")
	require.NoError(t, o.Poll(context.Background()))

	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseLive }, time.Second, time.Millisecond)
	created, _, _, _ = svc.snapshot()
	assert.Equal([]types.MatchID{"M1"}, created)
	assert.Equal([]int{3, 2, 1, 0}, countdown.get())

	session.mu.Lock()
	assert.Len(session.starts, 1)
	assert.Equal([]types.Destination{{ServerURL: orchestrator.FacebookServer, StreamKey: "FB-M1"}}, session.starts[0])
	assert.Equal(hd, session.params[0])
	session.mu.Unlock()

	require.Eventually(t, func() bool {
		_, started, _, platforms := svc.snapshot()
		return len(started) == 1 && platforms[0] == "all"
	}, time.Second, time.Millisecond)
}

func TestScenarioNewMatchWhileLive(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{}
	session := &fakeSession{}
	o := newOrchestrator(svc, session)

	svc.setMatch("M1", "live")
	require.NoError(t, o.Poll(context.Background()))
	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseLive }, time.Second, time.Millisecond)

	svc.setMatch("M2", "scheduled")
	require.NoError(t, o.Poll(context.Background()))

	_, stops := session.counts()
	assert.Equal(1, stops)
	require.Eventually(t, func() bool {
		starts, _ := session.counts()
		return starts == 2
	}, time.Second, time.Millisecond)

	created, _, _, _ := svc.snapshot()
	assert.Equal([]types.MatchID{"M1", "M2"}, created)
	require.Eventually(t, func() bool {
		_, _, ended, _ := svc.snapshot()
		return len(ended) == 1 && ended[0] == "M1"
	}, time.Second, time.Millisecond)
}

func TestTerminalOrAbsentMatchStops(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{}
	session := &fakeSession{}
	o := newOrchestrator(svc, session)

	svc.setMatch("M1", "live")
	require.NoError(t, o.Poll(context.Background()))
	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseLive }, time.Second, time.Millisecond)

	svc.setMatch("M1", "finished")
	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(control.StateIdle, session.State())
	assert.Equal(orchestrator.PhaseWaiting, o.Phase())

	// finished matches are not re-armed
	require.NoError(t, o.Poll(context.Background()))
	starts, _ := session.counts()
	assert.Equal(1, starts)

	svc.setMatch("M3", "scheduled")
	require.NoError(t, o.Poll(context.Background()))
	require.Eventually(t, func() bool { return session.State() == control.StateLive }, time.Second, time.Millisecond)

	svc.setMatch("", "")
	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(control.StateIdle, session.State())
}

func TestDisablingAutoCancelsCountdownButKeepsLive(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{}
	session := &fakeSession{}
	o := orchestrator.New(orchestrator.Config{
		Court:         "court-1",
		Auto:          true,
		CountdownStep: time.Hour,
		Params:        hd,
	}, svc, session)

	svc.setMatch("M1", "scheduled")
	require.NoError(t, o.Poll(context.Background()))
	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseArmed }, time.Second, time.Millisecond)

	o.SetAuto(false)
	assert.Equal(orchestrator.PhaseWaiting, o.Phase())
	time.Sleep(20 * time.Millisecond)
	starts, _ := session.counts()
	assert.Zero(starts)

	// a manual session survives auto being off and the match disappearing
	require.NoError(t, session.Start(context.Background(), nil, hd))
	svc.setMatch("", "")
	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(control.StateLive, session.State())
}

func TestMatchFinishedDuringCountdown(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{}
	session := &fakeSession{}
	o := orchestrator.New(orchestrator.Config{
		Court:          "court-1",
		Auto:           true,
		CountdownSteps: 2,
		CountdownStep:  50 * time.Millisecond,
		Params:         hd,
	}, svc, session)
	countdown := &countdownLog{}
	o.OnCountdown(countdown.record)

	svc.setMatch("M1", "scheduled")
	require.NoError(t, o.Poll(context.Background()))
	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseArmed }, time.Second, time.Millisecond)

	svc.setMatch("M1", "finished")
	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(orchestrator.PhaseWaiting, o.Phase())

	time.Sleep(200 * time.Millisecond)
	starts, stops := session.counts()
	assert.Zero(starts)
	assert.Zero(stops)
	assert.NotContains(countdown.get(), 0)
	assert.Equal(orchestrator.PhaseWaiting, o.Phase())
}

func TestOverlayFollowsCourtOutsideSessions(t *testing.T) {
	assert := assert.New(t)

	svc := &fakeService{}
	session := &fakeSession{}
	o := newOrchestrator(svc, session)
	comp := overlay.NewCompositor()
	poller := overlay.NewPoller(svc, comp, time.Second)
	o.SetOverlayPoller(poller)
	o.SetAuto(false)

	// the scoreboard is kept fresh while nothing is broadcast
	svc.setMatch("M1", "scheduled")
	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(types.MatchID("M1"), poller.Match())
	require.NoError(t, poller.Fetch(context.Background()))
	require.NotNil(t, comp.Snapshot())
	assert.Equal("M1", comp.Snapshot().TeamA)

	require.NoError(t, session.Start(context.Background(), nil, hd))
	require.NoError(t, session.Stop())
	require.NoError(t, o.Poll(context.Background()))
	assert.Equal(types.MatchID("M1"), poller.Match())

	svc.setMatch("", "")
	require.NoError(t, o.Poll(context.Background()))
	assert.Empty(poller.Match())
}

func TestCreateFailureRetriesNextPoll(t *testing.T) {
	svc := &fakeService{failNext: assert.AnError}
	session := &fakeSession{}
	o := newOrchestrator(svc, session)

	svc.setMatch("M1", "scheduled")
	assert.Error(t, o.Poll(context.Background()))
	require.NoError(t, o.Poll(context.Background()))

	require.Eventually(t, func() bool { return o.Phase() == orchestrator.PhaseLive }, time.Second, time.Millisecond)
	created, _, _, _ := svc.snapshot()
	assert.Len(t, created, 2)
}

// The whole path from a detected match to the first video chunk on the relay.
func TestScenarioEndToEnd(t *testing.T) {
	assert := assert.New(t)

	srv := relaytest.NewServer(relaytest.AckStart)
	defer srv.Close()

	platform := capture.NewSynthetic()
	manager := capture.NewManager(platform)
	comp := overlay.NewCompositor()
	session := control.NewSession(control.Config{RelayURL: srv.WSURL(), PreviewWidth: 160, PreviewHeight: 90},
		manager, encoder.NullBackend{}, comp)
	defer session.Stop()

	svc := &fakeService{}
	o := newOrchestrator(svc, session)

	require.NoError(t, o.Poll(context.Background()))
	svc.setMatch("M1", "scheduled")
	require.NoError(t, o.Poll(context.Background()))

	require.True(t, srv.WaitFor(5*time.Second, func() bool { return len(srv.Video()) > 0 }))
	starts := srv.Starts()
	require.Len(t, starts, 1)
	assert.Equal([]string{orchestrator.FacebookServer + "FB-M1"}, starts[0].Outputs)
	assert.Equal(1280, starts[0].Width)
	assert.Equal(720, starts[0].Height)
	assert.Equal(30, starts[0].FPS)

	first := srv.Video()[0]
	assert.True(bytes.HasPrefix(first, []byte{0x00, 0x00, 0x00, 0x01}))
	assert.True(h264.IsKeyframe(first))

	svc.setMatch("M2", "scheduled")
	require.NoError(t, o.Poll(context.Background()))
	assert.True(srv.WaitFor(2*time.Second, func() bool { return srv.Stops() == 1 }))
	assert.True(srv.WaitFor(5*time.Second, func() bool { return len(srv.Starts()) == 2 }))
}
