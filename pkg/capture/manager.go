package capture

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSampleRate = 48000
	DefaultChannels   = 1
)

// Request describes the camera a broadcast wants.
type Request struct {
	PreferredDeviceID string
	PreferBackFacing  bool
	Width             int
	Height            int
	FPS               int
}

// Manager enumerates cameras and hands out capture handles.
type Manager struct {
	platform Platform
	log      logrus.FieldLogger

	mu      sync.Mutex
	devices []Device
	active  int
	facing  Facing
}

func NewManager(platform Platform) *Manager {
	return &Manager{
		platform: platform,
		log:      logrus.StandardLogger(),
		facing:   FacingUser,
	}
}

func (m *Manager) Name() string {
	return "capture"
}

func (m *Manager) SetLogger(log logrus.FieldLogger) {
	m.log = log
}

// List returns the cameras seen by the last refresh.
func (m *Manager) List() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Refresh re-enumerates the video inputs. Labels are often only populated
// after a device was opened once, so Acquire calls this again on success.
func (m *Manager) Refresh() error {
	all, err := m.platform.Enumerate()
	if err != nil {
		return Classify(err)
	}
	var video []Device
	for _, d := range all {
		if d.Kind == KindVideo {
			video = append(video, d)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var current string
	if m.active < len(m.devices) {
		current = m.devices[m.active].ID
	}
	m.devices = video
	m.active = 0
	for i, d := range video {
		if d.ID == current {
			m.active = i
		}
	}
	m.log.WithField("cameras", len(video)).Debug("Refreshed capture devices")
	return nil
}

// Acquire opens a camera and the microphone together.
func (m *Manager) Acquire(ctx context.Context, req Request) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	c := Constraints{Width: req.Width, Height: req.Height, FPS: req.FPS}
	index := -1
	for i, d := range m.devices {
		if req.PreferredDeviceID != "" && d.ID == req.PreferredDeviceID {
			index = i
		}
	}
	if index < 0 && len(m.devices) > 0 && req.PreferredDeviceID == "" && !req.PreferBackFacing {
		index = m.active
	}
	if index >= 0 {
		c.DeviceID = m.devices[index].ID
	} else {
		c.Facing = FacingUser
		if req.PreferBackFacing {
			c.Facing = FacingEnvironment
		}
	}
	m.mu.Unlock()

	video, err := m.platform.OpenVideo(c)
	if err != nil {
		return nil, Classify(err)
	}
	audio, err := m.platform.OpenAudio(AudioConstraints{SampleRate: DefaultSampleRate, Channels: DefaultChannels})
	if err != nil {
		video.Close()
		return nil, Classify(err)
	}

	m.mu.Lock()
	if index >= 0 {
		m.active = index
	}
	if c.Facing != "" {
		m.facing = c.Facing
	}
	m.mu.Unlock()

	if err := m.Refresh(); err != nil {
		m.log.Warnf("could not refresh devices after acquire: %v", err)
	}

	m.log.WithFields(logrus.Fields{
		"device": c.DeviceID,
		"facing": c.Facing,
		"size":   [2]int{c.Width, c.Height},
	}).Info("Acquired capture devices")
	return newHandle(video, audio, c, m.log), nil
}

// SwitchVideo moves h to the next camera. With two or more known cameras it
// rotates through them, otherwise it flips the facing mode. Audio keeps
// running. On failure h is left on its current camera.
func (m *Manager) SwitchVideo(ctx context.Context, h *Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	prev := h.Constraints()
	c := Constraints{Width: prev.Width, Height: prev.Height, FPS: prev.FPS}
	next := -1
	if len(m.devices) >= 2 {
		next = (m.active + 1) % len(m.devices)
		c.DeviceID = m.devices[next].ID
	} else {
		c.Facing = m.facing.Toggle()
	}
	m.mu.Unlock()

	video, err := m.platform.OpenVideo(c)
	if err != nil {
		return Classify(err)
	}
	if err := h.swapVideo(video, c); err != nil {
		return err
	}

	m.mu.Lock()
	if next >= 0 {
		m.active = next
	} else {
		m.facing = c.Facing
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"device": c.DeviceID, "facing": c.Facing}).Info("Switched camera")
	return nil
}
