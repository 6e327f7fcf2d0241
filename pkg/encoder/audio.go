package encoder

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/pickletour/courtlive/pkg/capture"
)

const (
	AudioSampleRate   = 48000
	AudioBitrate      = 128000
	FrameDuration     = 20 * time.Millisecond
	FramesPerChunk    = 5
	maxOpusPacketSize = 4000
)

// AudioAdapter encodes microphone PCM to Opus and emits it as Ogg pages, one
// chunk per FramesPerChunk frames.
type AudioAdapter struct {
	source capture.AudioSource
	log    logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	onError func(error)
}

func NewAudioAdapter(source capture.AudioSource) *AudioAdapter {
	return &AudioAdapter{
		source:  source,
		log:     logrus.StandardLogger(),
		onError: func(error) {},
	}
}

func (a *AudioAdapter) SetLogger(log logrus.FieldLogger) {
	a.log = log
}

// OnError receives a fatal encoder failure.
func (a *AudioAdapter) OnError(fn func(error)) {
	a.onError = fn
}

// Start begins encoding on its own goroutine. emit is called with each non
// empty chunk.
func (a *AudioAdapter) Start(ctx context.Context, emit func([]byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrClosed
	}
	if a.cancel != nil {
		return nil
	}

	channels := a.source.Channels()
	if channels <= 0 {
		channels = capture.DefaultChannels
	}
	if rate := a.source.SampleRate(); rate != 0 && rate != AudioSampleRate {
		return &EncoderError{Media: "audio", Err: errors.Errorf("unsupported sample rate %d", rate)}
	}
	enc, err := opus.NewEncoder(AudioSampleRate, channels, opus.AppAudio)
	if err != nil {
		return &EncoderError{Media: "audio", Err: err}
	}
	if err := enc.SetBitrate(AudioBitrate); err != nil {
		return &EncoderError{Media: "audio", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	pipe := &oggChunker{channels: channels}
	go a.run(ctx, enc, pipe, channels, emit)

	a.log.WithField("channels", channels).Info("Started audio encoder")
	return nil
}

func (a *AudioAdapter) run(ctx context.Context, enc *opus.Encoder, pipe *oggChunker, channels int, emit func([]byte)) {
	defer close(a.done)

	frameSamples := AudioSampleRate * int(FrameDuration/time.Millisecond) / 1000 * channels
	pcm := make([]int16, 0, frameSamples*2)
	packet := make([]byte, maxOpusPacketSize)

	for ctx.Err() == nil {
		samples, err := a.source.Read()
		if err != nil {
			if ctx.Err() == nil {
				a.log.Warnf("microphone stopped: %v", err)
			}
			return
		}
		pcm = append(pcm, samples...)

		for len(pcm) >= frameSamples {
			n, err := enc.Encode(pcm[:frameSamples], packet)
			if err != nil {
				a.onError(&EncoderError{Media: "audio", Err: err})
				return
			}
			pcm = append(pcm[:0], pcm[frameSamples:]...)

			chunk, err := pipe.add(packet[:n])
			if err != nil {
				a.onError(&EncoderError{Media: "audio", Err: err})
				return
			}
			if len(chunk) > 0 && ctx.Err() == nil {
				emit(chunk)
			}
		}
	}
}

// Stop ends encoding and waits for the goroutine. Safe to call more than once.
func (a *AudioAdapter) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	// Read may be blocked on the device, the source is closed by its owner
	select {
	case <-done:
	case <-time.After(time.Second):
		a.log.Warn("audio encoder did not stop in time")
	}
}

// oggChunker packs Opus packets into Ogg pages and cuts the stream into
// chunks. The first chunk carries the Ogg headers.
type oggChunker struct {
	channels int
	buf      bytes.Buffer
	writer   *oggwriter.OggWriter
	frames   int
	seq      uint16
	ts       uint32
}

func (o *oggChunker) add(packet []byte) ([]byte, error) {
	if o.writer == nil {
		w, err := oggwriter.NewWith(&o.buf, AudioSampleRate, uint16(o.channels))
		if err != nil {
			return nil, err
		}
		o.writer = w
	}
	samples := uint32(AudioSampleRate * int(FrameDuration/time.Millisecond) / 1000)
	err := o.writer.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: o.seq,
			Timestamp:      o.ts,
		},
		Payload: packet,
	})
	if err != nil {
		return nil, err
	}
	o.seq++
	o.ts += samples
	o.frames++

	if o.frames < FramesPerChunk || o.buf.Len() == 0 {
		return nil, nil
	}
	o.frames = 0
	chunk := append([]byte(nil), o.buf.Bytes()...)
	o.buf.Reset()
	return chunk, nil
}
