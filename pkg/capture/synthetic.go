package capture

import (
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var errSourceClosed = errors.New("source closed")

// Synthetic is a Platform that paints test patterns and generates a tone. It
// is used on hosts without cameras and in tests.
type Synthetic struct {
	// Paced makes sources deliver at real time rates.
	Paced bool
	// Fail, when set, makes every open fail with this reason.
	Fail Reason

	mu      sync.Mutex
	devices []Device
	opened  []Constraints
}

func NewSynthetic(devices ...Device) *Synthetic {
	return &Synthetic{devices: devices, Paced: true}
}

func (s *Synthetic) Name() string {
	return "synthetic"
}

func (s *Synthetic) SetDevices(devices ...Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devices
}

// Opened lists the constraints of every successful OpenVideo call.
func (s *Synthetic) Opened() []Constraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Constraints(nil), s.opened...)
}

func (s *Synthetic) Enumerate() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Device(nil), s.devices...), nil
}

func (s *Synthetic) OpenVideo(c Constraints) (VideoSource, error) {
	if s.Fail != "" {
		return nil, &DeviceError{Reason: s.Fail}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.DeviceID != "" {
		found := false
		for _, d := range s.devices {
			found = found || d.ID == c.DeviceID
		}
		if !found {
			return nil, &DeviceError{Reason: ReasonNotFound, Err: errors.Errorf("no camera %q", c.DeviceID)}
		}
	}
	s.opened = append(s.opened, c)

	w, h, fps := c.Width, c.Height, c.FPS
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}
	if fps <= 0 {
		fps = 30
	}
	key := c.DeviceID
	if key == "" {
		key = string(c.Facing)
	}
	return &patternSource{
		size:   image.Rect(0, 0, w, h),
		tint:   tintFor(key),
		period: time.Second / time.Duration(fps),
		paced:  s.Paced,
		done:   make(chan struct{}),
	}, nil
}

func (s *Synthetic) OpenAudio(c AudioConstraints) (AudioSource, error) {
	if s.Fail != "" {
		return nil, &DeviceError{Reason: s.Fail}
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	return &toneSource{
		rate:     c.SampleRate,
		channels: c.Channels,
		paced:    s.Paced,
		done:     make(chan struct{}),
	}, nil
}

// Tint makes frames from different cameras tell apart.
func tintFor(key string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(key))
	v := h.Sum32()
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 0xff}
}

// TintOf reports the pattern colour a synthetic camera uses.
func TintOf(deviceID string) color.RGBA {
	return tintFor(deviceID)
}

type patternSource struct {
	size   image.Rectangle
	tint   color.RGBA
	period time.Duration
	paced  bool
	n      int
	done   chan struct{}
	once   sync.Once
}

func (p *patternSource) Read() (image.Image, func(), error) {
	if p.paced {
		select {
		case <-p.done:
			return nil, nil, errSourceClosed
		case <-time.After(p.period):
		}
	} else {
		select {
		case <-p.done:
			return nil, nil, errSourceClosed
		default:
		}
	}
	img := image.NewRGBA(p.size)
	draw.Draw(img, img.Bounds(), &image.Uniform{C: p.tint}, image.Point{}, draw.Src)
	// a moving bar so consecutive frames differ
	bar := p.size.Dx() / 16
	x := (p.n * 8) % p.size.Dx()
	draw.Draw(img, image.Rect(x, 0, x+bar, p.size.Dy()), image.White, image.Point{}, draw.Src)
	p.n++
	return img, func() {}, nil
}

func (p *patternSource) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

const toneHz = 440

type toneSource struct {
	rate     int
	channels int
	paced    bool
	phase    float64
	done     chan struct{}
	once     sync.Once
}

// Read returns 10ms of a quiet sine tone.
func (t *toneSource) Read() ([]int16, error) {
	const chunk = 10 * time.Millisecond
	if t.paced {
		select {
		case <-t.done:
			return nil, errSourceClosed
		case <-time.After(chunk):
		}
	} else {
		select {
		case <-t.done:
			return nil, errSourceClosed
		default:
		}
	}
	frames := t.rate / 100
	out := make([]int16, frames*t.channels)
	step := 2 * math.Pi * toneHz / float64(t.rate)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(t.phase) * 3000)
		t.phase += step
		for ch := 0; ch < t.channels; ch++ {
			out[i*t.channels+ch] = v
		}
	}
	return out, nil
}

func (t *toneSource) SampleRate() int { return t.rate }
func (t *toneSource) Channels() int   { return t.channels }

func (t *toneSource) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
