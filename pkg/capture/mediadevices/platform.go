// Package mediadevices captures from local cameras and microphones through
// pion/mediadevices. Importing it registers the V4L2 camera and the default
// microphone drivers.
package mediadevices

import (
	"image"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pkg/errors"

	// drivers
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"

	"github.com/pickletour/courtlive/pkg/capture"
)

var backLabels = []string{"back", "rear", "environment", "usb"}

type Platform struct{}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Name() string {
	return "mediadevices"
}

func (p *Platform) Enumerate() ([]capture.Device, error) {
	var out []capture.Device
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, capture.Device{
			ID:    info.DeviceID,
			Kind:  capture.KindVideo,
			Label: info.Label,
		})
	}
	return out, nil
}

func (p *Platform) OpenVideo(c capture.Constraints) (capture.VideoSource, error) {
	deviceID := c.DeviceID
	if deviceID == "" && c.Facing != "" {
		deviceID = p.byFacing(c.Facing)
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				mc.DeviceID = prop.StringExact(deviceID)
			}
			if c.Width > 0 && c.Height > 0 {
				mc.Width = prop.Int(c.Width)
				mc.Height = prop.Int(c.Height)
			}
			if c.FPS > 0 {
				mc.FrameRate = prop.Float(c.FPS)
			}
		},
	})
	if err != nil {
		return nil, capture.Classify(err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, &capture.DeviceError{Reason: capture.ReasonNotFound}
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return nil, &capture.DeviceError{Reason: capture.ReasonNotFound, Err: errors.New("unexpected track type")}
	}
	return &videoSource{track: track, reader: track.NewReader(true)}, nil
}

func (p *Platform) OpenAudio(c capture.AudioConstraints) (capture.AudioSource, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(mc *mediadevices.MediaTrackConstraints) {
			mc.SampleRate = prop.Int(c.SampleRate)
			mc.ChannelCount = prop.Int(c.Channels)
		},
	})
	if err != nil {
		return nil, capture.Classify(err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &capture.DeviceError{Reason: capture.ReasonNotFound}
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		tracks[0].Close()
		return nil, &capture.DeviceError{Reason: capture.ReasonNotFound, Err: errors.New("unexpected track type")}
	}
	return &audioSource{
		track:    track,
		reader:   track.NewReader(true),
		rate:     c.SampleRate,
		channels: c.Channels,
	}, nil
}

// byFacing guesses a camera from its label. Desktop drivers don't report a
// facing mode.
func (p *Platform) byFacing(f capture.Facing) string {
	devices, _ := p.Enumerate()
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		back := false
		for _, word := range backLabels {
			back = back || strings.Contains(label, word)
		}
		if back == (f == capture.FacingEnvironment) {
			return d.ID
		}
	}
	return ""
}

type videoSource struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
}

func (v *videoSource) Read() (image.Image, func(), error) {
	return v.reader.Read()
}

func (v *videoSource) Close() error {
	return v.track.Close()
}

type audioSource struct {
	track    *mediadevices.AudioTrack
	reader   audio.Reader
	rate     int
	channels int
}

func (a *audioSource) Read() ([]int16, error) {
	chunk, release, err := a.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()

	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		return append([]int16(nil), c.Data...), nil
	case *wave.Float32Interleaved:
		out := make([]int16, len(c.Data))
		for i, s := range c.Data {
			out[i] = floatToPCM(s)
		}
		return out, nil
	case *wave.Int16NonInterleaved:
		info := c.ChunkInfo()
		out := make([]int16, 0, info.Len*info.Channels)
		for i := 0; i < info.Len; i++ {
			for ch := 0; ch < info.Channels; ch++ {
				out = append(out, c.Data[ch][i])
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported sample format %T", chunk)
	}
}

func floatToPCM(s float32) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	}
	return int16(s * 32767)
}

func (a *audioSource) SampleRate() int { return a.rate }
func (a *audioSource) Channels() int   { return a.channels }

func (a *audioSource) Close() error {
	return a.track.Close()
}
