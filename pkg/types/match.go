package types

import (
	"encoding/json"
	"strings"
)

type Court struct {
	ID   CourtID `json:"_id"`
	Name string  `json:"name"`
}

type Match struct {
	ID       MatchID `json:"_id"`
	Code     string  `json:"code"`
	LabelKey string  `json:"labelKey"`
	Status   string  `json:"status"`
}

// Label is the operator facing name of the match.
func (m Match) Label() string {
	if m.LabelKey != "" {
		return m.LabelKey
	}
	if m.Code != "" {
		return "Match " + m.Code
	}
	return "Match " + string(m.ID)
}

// Terminal reports whether the match will not produce any more play.
func (m Match) Terminal() bool {
	switch strings.ToLower(m.Status) {
	case "finished", "completed", "cancelled", "canceled":
		return true
	}
	return false
}

// CourtMatch is the response of the current match lookup. Match is nil when
// nothing is assigned to the court.
type CourtMatch struct {
	Court Court  `json:"court"`
	Match *Match `json:"match"`
}

type PlatformLive struct {
	Live *Destination `json:"live"`
}

type PrimaryDestination struct {
	Platform string `json:"platform"`
	Destination
}

func (p *PrimaryDestination) UnmarshalJSON(b []byte) error {
	var raw struct {
		Platform string `json:"platform"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Platform = raw.Platform
	return p.Destination.UnmarshalJSON(b)
}

// LiveSession is what the API returns after provisioning live destinations for
// a match.
type LiveSession struct {
	OK               bool                    `json:"ok"`
	Platforms        map[string]PlatformLive `json:"platforms"`
	PlatformsEnabled map[string]bool         `json:"platformsEnabled"`
	Primary          *PrimaryDestination     `json:"primary"`
	Destinations     []Destination           `json:"destinations"`
	OverlayURL       string                  `json:"overlay_url"`
	StudioURL        string                  `json:"studio_url"`
	PlatformLinks    map[string]string       `json:"platformLinks"`
}

// LocalKeys are stream keys typed in by the operator, one per platform.
type LocalKeys struct {
	FacebookKey   string `json:"facebookKey"`
	YoutubeServer string `json:"youtubeServer"`
	YoutubeKey    string `json:"youtubeKey"`
	TiktokServer  string `json:"tiktokServer"`
	TiktokKey     string `json:"tiktokKey"`
}
