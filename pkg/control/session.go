package control

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/capture"
	"github.com/pickletour/courtlive/pkg/disk"
	"github.com/pickletour/courtlive/pkg/encoder"
	"github.com/pickletour/courtlive/pkg/metrics"
	"github.com/pickletour/courtlive/pkg/overlay"
	"github.com/pickletour/courtlive/pkg/relay"
	"github.com/pickletour/courtlive/pkg/types"
)

const (
	DefaultPreviewWidth  = 640
	DefaultPreviewHeight = 360
)

type Config struct {
	RelayURL         string
	Relay            relay.Config
	PreferBackFacing bool
	PreferredDevice  string
	PreviewWidth     int
	PreviewHeight    int
	// RecordDir, when set, keeps a local copy of every run.
	RecordDir string
}

// Session is the broadcast state machine. It owns the capture handle, both
// compressors and the relay connection of the current run.
type Session struct {
	cfg        Config
	devices    *capture.Manager
	backend    encoder.Backend
	compositor *overlay.Compositor
	metrics    *metrics.Metrics
	log        logrus.FieldLogger

	mu      sync.Mutex
	state   State
	lastErr error
	run     *run
	layers  overlay.Layers
	health  types.HealthStats
	onState func(State)

	preview previewBuffer
}

func NewSession(cfg Config, devices *capture.Manager, backend encoder.Backend, compositor *overlay.Compositor) *Session {
	if cfg.PreviewWidth <= 0 || cfg.PreviewHeight <= 0 {
		cfg.PreviewWidth, cfg.PreviewHeight = DefaultPreviewWidth, DefaultPreviewHeight
	}
	return &Session{
		cfg:        cfg,
		devices:    devices,
		backend:    backend,
		compositor: compositor,
		log:        logrus.StandardLogger(),
		layers:     overlay.DefaultLayers(),
		onState:    func(State) {},
	}
}

func (s *Session) Name() string {
	return "session"
}

func (s *Session) SetLogger(log logrus.FieldLogger) {
	s.log = log
}

func (s *Session) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// OnStateChange is called after every transition, outside the session lock.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

func (s *Session) SetLayers(l overlay.Layers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = l
}

func (s *Session) Layers() overlay.Layers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the last fatal error, cleared by the next successful start.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Health() types.HealthStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Status is the single line shown to the operator.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateIdle && s.lastErr != nil:
		return "error: " + s.lastErr.Error()
	case s.state == StateLive:
		h := s.health
		return fmt.Sprintf("live (%.0f fps, %.0f kbps, %d dropped)", h.FPS, h.BitrateKbps, h.Dropped)
	}
	return s.state.String()
}

// Preview returns the latest composited preview frame, or nil when idle.
func (s *Session) Preview() image.Image {
	img := s.preview.load()
	if img == nil {
		return nil
	}
	return img
}

// Devices returns the capture manager's camera list.
func (s *Session) Devices() []capture.Device {
	return s.devices.List()
}

// run is everything one start acquires. Components are registered as they
// are created so teardown can unwind a partial start.
type run struct {
	id     string
	params types.EncodeParams
	ctx    context.Context
	cancel context.CancelFunc
	log    logrus.FieldLogger

	mu     sync.Mutex
	torn   bool
	handle *capture.Handle
	client *relay.Client
	video  *encoder.VideoAdapter
	audio  *encoder.AudioAdapter
	record *disk.Recorder

	tasks    sync.WaitGroup
	forceKey atomic.Bool
	liveAt   atomic.Int64
	teardown sync.Once
}

// track registers a component. It returns false when the run is already torn
// down, in which case the caller must release the component itself.
func (r *run) track(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.torn {
		return false
	}
	fn()
	return true
}

// close unwinds the run in reverse order of acquisition. Concurrent callers
// block until the first one finishes.
func (r *run) close() {
	r.teardown.Do(func() {
		r.cancel()
		r.tasks.Wait()

		r.mu.Lock()
		r.torn = true
		handle, client, video, audio, record := r.handle, r.client, r.video, r.audio, r.record
		r.mu.Unlock()

		if video != nil {
			if err := video.Close(); err != nil {
				r.log.Warnf("closing video encoder: %v", err)
			}
		}
		if audio != nil {
			audio.Stop()
		}
		if record != nil {
			if err := record.Close(); err != nil {
				r.log.Warnf("closing recording: %v", err)
			}
		}
		if client != nil {
			if err := client.Stop(); err != nil {
				r.log.Debugf("closing relay: %v", err)
			}
		}
		if handle != nil {
			if err := handle.Release(); err != nil {
				r.log.Warnf("releasing capture: %v", err)
			}
		}
		r.log.Info("Session resources released")
	})
}

// Start brings the session live. It is a no-op unless the session is idle.
// Any failure unwinds what was acquired before returning.
func (s *Session) Start(ctx context.Context, destinations []types.Destination, params types.EncodeParams) error {
	var valid []types.Destination
	for _, d := range destinations {
		if d.Valid() {
			valid = append(valid, d)
		}
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	if len(valid) == 0 {
		s.lastErr = ErrNoDestinations
		s.mu.Unlock()
		s.metrics.IncSessionFailure(Kind(ErrNoDestinations))
		return ErrNoDestinations
	}
	if s.backend == nil || !s.backend.Available() {
		s.lastErr = ErrUnsupportedEnvironment
		s.mu.Unlock()
		s.metrics.IncSessionFailure(Kind(ErrUnsupportedEnvironment))
		return ErrUnsupportedEnvironment
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     id,
		params: params,
		ctx:    runCtx,
		cancel: cancel,
		log: s.log.WithFields(logrus.Fields{
			"session": id,
		}),
	}
	s.run = r
	s.lastErr = nil
	s.health = types.HealthStats{}
	notify := s.transition(StateStarting)
	s.mu.Unlock()
	notify()

	// the caller's ctx only bounds the start itself
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	r.log.WithFields(logrus.Fields{
		"destinations": len(valid),
		"params":       params.String(),
	}).Info("Starting broadcast")

	if err := s.startRun(r, valid); err != nil {
		if r.ctx.Err() != nil && ctx.Err() == nil {
			err = ErrInterrupted
		}
		return s.abort(r, err)
	}

	s.mu.Lock()
	if s.run != r || s.state != StateStarting {
		s.mu.Unlock()
		r.close()
		return ErrInterrupted
	}
	r.liveAt.Store(time.Now().UnixNano())
	notify = s.transition(StateLive)
	s.mu.Unlock()
	notify()

	s.metrics.IncSessionsStarted()
	r.log.Info("Broadcast is live")
	return nil
}

func (s *Session) startRun(r *run, destinations []types.Destination) error {
	handle, err := s.devices.Acquire(r.ctx, capture.Request{
		PreferredDeviceID: s.cfg.PreferredDevice,
		PreferBackFacing:  s.cfg.PreferBackFacing,
		Width:             r.params.Width,
		Height:            r.params.Height,
		FPS:               r.params.FPS,
	})
	if err != nil {
		return err
	}
	if !r.track(func() { r.handle = handle }) {
		handle.Release()
		return ErrInterrupted
	}

	preview := newFrameTask("preview", r.params.FPS, s.cfg.PreviewWidth, s.cfg.PreviewHeight, s.renderPreview(r))
	s.spawn(r, preview)

	client, err := relay.Dial(r.ctx, s.cfg.RelayURL, s.cfg.Relay)
	if err != nil {
		return err
	}
	client.SetLogger(r.log.WithField("component", "relay"))
	client.OnStats(s.setHealth)
	client.OnError(func(err error) { s.fail(r, err) })
	client.OnClosed(func(err error) { s.fail(r, err) })
	if !r.track(func() { r.client = client }) {
		client.Stop()
		return ErrInterrupted
	}

	if err := client.Start(r.ctx, relay.NewStartMessage(destinations, r.params)); err != nil {
		return err
	}

	var record *disk.Recorder
	if s.cfg.RecordDir != "" {
		if record, err = disk.NewRecorder(s.cfg.RecordDir, r.id); err != nil {
			return err
		}
		if !r.track(func() { r.record = record }) {
			record.Close()
			return ErrInterrupted
		}
	}

	video := encoder.NewVideoAdapter(s.backend, func(annexB []byte, keyframe bool, _ int64) {
		if err := client.SendVideo(annexB); err != nil {
			r.log.Debugf("send video: %v", err)
			return
		}
		s.metrics.AddVideo(len(annexB), keyframe)
		if record != nil {
			if err := record.WriteVideo(annexB); err != nil {
				r.log.Debugf("record video: %v", err)
			}
		}
	})
	video.SetLogger(r.log.WithField("component", "video"))
	video.OnError(func(err error) { s.fail(r, err) })
	if !r.track(func() { r.video = video }) {
		video.Close()
		return ErrInterrupted
	}
	if err := video.Configure(r.params); err != nil {
		return err
	}

	audio := encoder.NewAudioAdapter(handle.Audio())
	audio.SetLogger(r.log.WithField("component", "audio"))
	audio.OnError(func(err error) { go s.fail(r, err) })
	if !r.track(func() { r.audio = audio }) {
		audio.Stop()
		return ErrInterrupted
	}
	if err := audio.Start(r.ctx, func(chunk []byte) {
		if err := client.SendAudio(chunk); err != nil {
			r.log.Debugf("send audio: %v", err)
			return
		}
		s.metrics.AddAudio(len(chunk))
		if record != nil {
			if err := record.WriteAudio(chunk); err != nil {
				r.log.Debugf("record audio: %v", err)
			}
		}
	}); err != nil {
		return err
	}

	encode := newFrameTask("encode", r.params.FPS, r.params.Width, r.params.Height, s.renderEncode(r, video))
	s.spawn(r, encode)
	return nil
}

func (s *Session) spawn(r *run, t *frameTask) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		if err := t.run(r.ctx); err != nil {
			r.log.WithField("task", t.name).Debugf("frame task ended: %v", err)
		}
	}()
}

func (s *Session) renderPreview(r *run) func(*frameTask, int64) error {
	return func(t *frameTask, _ int64) error {
		t.composite(r.handle.Frame(), s.compositor, s.Layers())
		s.preview.publish(t.surface)
		return nil
	}
}

func (s *Session) renderEncode(r *run, video *encoder.VideoAdapter) func(*frameTask, int64) error {
	return func(t *frameTask, tsUs int64) error {
		if at := r.liveAt.Load(); at != 0 {
			s.compositor.SetElapsed(time.Since(time.Unix(0, at)))
		}
		t.composite(r.handle.Frame(), s.compositor, s.Layers())
		return video.Encode(t.surface, tsUs, r.forceKey.Swap(false))
	}
}

func (s *Session) setHealth(h types.HealthStats) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
	s.metrics.SetRelayHealth(h.FPS, h.BitrateKbps, h.Dropped)
}

// SwitchCamera moves to the next camera without interrupting the broadcast.
// The next encoded frame is a keyframe.
func (s *Session) SwitchCamera(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	state := s.state
	s.mu.Unlock()
	if r == nil || (state != StateLive && state != StateStarting) {
		return nil
	}

	r.mu.Lock()
	handle := r.handle
	r.mu.Unlock()
	if handle == nil {
		return nil
	}
	if err := s.devices.SwitchVideo(ctx, handle); err != nil {
		r.log.Warnf("camera switch failed: %v", err)
		return err
	}
	r.forceKey.Store(true)
	return nil
}

// Stop ends the current run and returns to idle. It is idempotent and may be
// called from any goroutine, including while Start is in progress.
func (s *Session) Stop() error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	notify := func() {}
	if s.state != StateStopping {
		notify = s.transition(StateStopping)
	}
	s.mu.Unlock()
	notify()

	r.log.Info("Stopping broadcast")
	r.close()
	s.finish(r, nil)
	return nil
}

// fail handles a fatal error from a live run.
func (s *Session) fail(r *run, err error) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	notify := func() {}
	if s.state != StateStopping {
		notify = s.transition(StateStopping)
	}
	s.mu.Unlock()
	notify()

	r.log.WithField("kind", Kind(err)).Errorf("Broadcast failed: %v", err)
	s.metrics.IncSessionFailure(Kind(err))
	r.close()
	s.finish(r, err)
}

// abort unwinds a failed start and returns err.
func (s *Session) abort(r *run, err error) error {
	if errors.Is(err, ErrInterrupted) {
		r.log.Info("Start interrupted by stop")
	} else {
		r.log.WithField("kind", Kind(err)).Errorf("Start failed: %v", err)
		s.metrics.IncSessionFailure(Kind(err))
	}
	r.close()
	s.finish(r, err)
	return err
}

func (s *Session) finish(r *run, err error) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.run = nil
	// an operator stop is not a failure
	if err != nil && !errors.Is(err, ErrInterrupted) {
		s.lastErr = err
	}
	s.preview.latest.Store(nil)
	notify := s.transition(StateIdle)
	s.mu.Unlock()
	notify()
}

// transition must be called with s.mu held. The returned func reports the
// change and must be called after unlocking.
func (s *Session) transition(to State) func() {
	s.state = to
	s.compositor.SetLive(to == StateLive)
	fn := s.onState
	s.metrics.SetSessionState(int(to))
	return func() { fn(to) }
}
