package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type CourtID string
type MatchID string

func (id CourtID) String() string {
	return string(id)
}

func (id MatchID) String() string {
	return string(id)
}

// Destination is one external broadcast target.
type Destination struct {
	ServerURL string `json:"serverUrl"`
	StreamKey string `json:"streamKey"`
}

// JoinURL returns the server url and stream key joined by a single slash.
func (d Destination) JoinURL() string {
	return JoinRTMP(d.ServerURL, d.StreamKey)
}

func (d Destination) Valid() bool {
	return strings.TrimSpace(d.ServerURL) != "" && strings.TrimSpace(d.StreamKey) != ""
}

// UnmarshalJSON accepts both the camelCase and snake_case spellings the API uses.
func (d *Destination) UnmarshalJSON(b []byte) error {
	var raw struct {
		ServerURL      string `json:"serverUrl"`
		ServerURLSnake string `json:"server_url"`
		StreamKey      string `json:"streamKey"`
		StreamKeySnake string `json:"stream_key"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.ServerURL = firstNonEmpty(raw.ServerURL, raw.ServerURLSnake)
	d.StreamKey = firstNonEmpty(raw.StreamKey, raw.StreamKeySnake)
	return nil
}

func JoinRTMP(server, key string) string {
	server = strings.TrimSpace(server)
	key = strings.TrimSpace(key)
	if server == "" || key == "" {
		return ""
	}
	return strings.TrimSuffix(server, "/") + "/" + key
}

type EncodeParams struct {
	Width            int
	Height           int
	FPS              int
	VideoBitrateKbps int
}

func (p EncodeParams) String() string {
	return fmt.Sprintf("%dx%d@%d %dk", p.Width, p.Height, p.FPS, p.VideoBitrateKbps)
}

type HealthStats struct {
	FPS         float64 `json:"fps"`
	BitrateKbps float64 `json:"bitrate"`
	Dropped     int     `json:"dropped"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
