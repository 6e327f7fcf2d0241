package types

import (
	"fmt"
	"strings"
)

const DefaultQuality = "high"

var qualityPresets = map[string]EncodeParams{
	"low":    {Width: 640, Height: 360, FPS: 24, VideoBitrateKbps: 800},
	"medium": {Width: 854, Height: 480, FPS: 30, VideoBitrateKbps: 1500},
	"high":   {Width: 1280, Height: 720, FPS: 30, VideoBitrateKbps: 2500},
	"ultra":  {Width: 1920, Height: 1080, FPS: 30, VideoBitrateKbps: 4000},
}

// QualityPreset looks up a named preset, an empty name selects the default.
func QualityPreset(name string) (EncodeParams, error) {
	if name == "" {
		name = DefaultQuality
	}
	p, ok := qualityPresets[strings.ToLower(name)]
	if !ok {
		return EncodeParams{}, fmt.Errorf("unknown quality preset %q", name)
	}
	return p, nil
}
