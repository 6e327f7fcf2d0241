package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pickletour/courtlive/pkg/types"
)

// AudioMarker is the first byte of every binary audio frame. Any other binary
// frame is Annex-B video.
const AudioMarker byte = 0x01

const DefaultAudioBitrate = "128k"

const (
	typeStart    = "start"
	typeStop     = "stop"
	typeStarted  = "started"
	typeStats    = "stats"
	typeError    = "error"
	typeProgress = "progress"
	typeStopped  = "stopped"
)

// IsAudio reports whether a binary frame carries audio.
func IsAudio(b []byte) bool {
	return len(b) > 0 && b[0] == AudioMarker
}

// Demux splits a binary frame into its kind and the payload the relay forwards.
func Demux(b []byte) (audio bool, payload []byte) {
	if IsAudio(b) {
		return true, b[1:]
	}
	return false, b
}

// FrameAudio prepends the audio marker to a compressed audio chunk.
func FrameAudio(chunk []byte) []byte {
	frame := make([]byte, len(chunk)+1)
	frame[0] = AudioMarker
	copy(frame[1:], chunk)
	return frame
}

type StartMessage struct {
	Type         string   `json:"type"`
	Outputs      []string `json:"outputs"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	FPS          int      `json:"fps"`
	VideoBitrate string   `json:"videoBitrate"`
	AudioBitrate string   `json:"audioBitrate"`
}

func NewStartMessage(destinations []types.Destination, params types.EncodeParams) StartMessage {
	outputs := make([]string, 0, len(destinations))
	for _, d := range destinations {
		if u := d.JoinURL(); u != "" {
			outputs = append(outputs, u)
		}
	}
	return StartMessage{
		Type:         typeStart,
		Outputs:      outputs,
		Width:        params.Width,
		Height:       params.Height,
		FPS:          params.FPS,
		VideoBitrate: fmt.Sprintf("%dk", params.VideoBitrateKbps),
		AudioBitrate: DefaultAudioBitrate,
	}
}

type stopMessage struct {
	Type string `json:"type"`
}

type inboundMessage struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	FPS     flexFloat `json:"fps"`
	Bitrate flexFloat `json:"bitrate"`
	Dropped flexFloat `json:"dropped"`
}

func (m inboundMessage) stats() types.HealthStats {
	return types.HealthStats{
		FPS:         float64(m.FPS),
		BitrateKbps: float64(m.Bitrate),
		Dropped:     int(m.Dropped),
	}
}

// flexFloat accepts numbers as well as strings such as "2500.3kbits/s".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexFloat(leadingFloat(s))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func leadingFloat(s string) float64 {
	end := 0
	for end < len(s) && (s[end] == '.' || s[end] == '-' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}
