// Package x264 registers a libx264 backend, built on pion/mediadevices.
package x264

import (
	"image"
	"sync"

	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/x264"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"github.com/pickletour/courtlive/pkg/encoder"
	"github.com/pickletour/courtlive/pkg/h264"
)

func init() {
	encoder.Register(Backend{})
}

type Backend struct{}

func (Backend) Name() string {
	return "x264"
}

func (Backend) Available() bool {
	return true
}

func (Backend) Open(cfg encoder.VideoConfig) (encoder.Compressor, error) {
	params, err := x264.NewParams()
	if err != nil {
		return nil, err
	}
	params.Preset = x264.PresetUltrafast
	params.BitRate = cfg.BitrateKbps * 1000
	params.KeyFrameInterval = cfg.FPS * 2

	reader := newFrameReader()
	enc, err := params.BuildVideoEncoder(reader, prop.Media{
		Video: prop.Video{
			Width:     cfg.Width,
			Height:    cfg.Height,
			FrameRate: float32(cfg.FPS),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "build x264 encoder")
	}
	return &compressor{reader: reader, enc: enc}, nil
}

// frameReader hands frames to the mediadevices encoder one at a time.
type frameReader struct {
	frames chan image.Image
	done   chan struct{}
	once   sync.Once
}

func newFrameReader() *frameReader {
	return &frameReader{
		frames: make(chan image.Image, 1),
		done:   make(chan struct{}),
	}
}

func (r *frameReader) Read() (image.Image, func(), error) {
	select {
	case frame := <-r.frames:
		return frame, func() {}, nil
	case <-r.done:
		return nil, func() {}, errors.New("frame reader closed")
	}
}

func (r *frameReader) close() {
	r.once.Do(func() { close(r.done) })
}

type compressor struct {
	reader *frameReader
	enc    codec.ReadCloser
}

func (c *compressor) Encode(img image.Image, keyframe bool) ([]byte, bool, error) {
	if keyframe {
		if kf, ok := c.enc.Controller().(codec.KeyFrameController); ok {
			if err := kf.ForceKeyFrame(); err != nil {
				return nil, false, err
			}
		}
	}
	c.reader.frames <- img

	data, release, err := c.enc.Read()
	if err != nil {
		return nil, false, err
	}
	defer release()
	out := append([]byte(nil), data...)
	return out, h264.IsKeyframe(out), nil
}

// x264 emits Annex-B with in-band parameter sets.
func (c *compressor) Description() []byte {
	return nil
}

func (c *compressor) Close() error {
	c.reader.close()
	return c.enc.Close()
}
