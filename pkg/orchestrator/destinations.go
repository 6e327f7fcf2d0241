package orchestrator

import (
	"strings"

	"github.com/pickletour/courtlive/pkg/types"
)

const (
	FacebookServer    = "rtmps://live-api-s.facebook.com:443/rtmp/"
	YoutubeServer     = "rtmp://a.rtmp.youtube.com/live2"
	YoutubeSecureRTMP = "rtmps://a.rtmps.youtube.com/live2"
)

// DestinationsFromLiveSession extracts the broadcast targets of a live
// session response. Facebook and YouTube take missing fields from the primary
// destination when it names their platform, TikTok only counts when fully
// present, and the generic destination list is appended last. Duplicates are
// dropped, first occurrence wins.
func DestinationsFromLiveSession(ls types.LiveSession) []types.Destination {
	var out []types.Destination

	for _, platform := range []string{"facebook", "youtube"} {
		server, key := platformFields(ls, platform)
		if ls.Primary != nil && ls.Primary.Platform == platform {
			if server == "" {
				server = ls.Primary.ServerURL
			}
			if key == "" {
				key = ls.Primary.StreamKey
			}
		}
		out = appendDestination(out, server, key)
	}

	server, key := platformFields(ls, "tiktok")
	out = appendDestination(out, server, key)

	for _, d := range ls.Destinations {
		out = appendDestination(out, d.ServerURL, d.StreamKey)
	}
	return dedupe(out)
}

// DestinationsFromKeys builds targets from keys entered on the device.
func DestinationsFromKeys(keys types.LocalKeys) []types.Destination {
	var out []types.Destination
	out = appendDestination(out, FacebookServer, keys.FacebookKey)

	ytServer := strings.TrimSpace(keys.YoutubeServer)
	if ytServer == "" {
		ytServer = YoutubeServer
	}
	out = appendDestination(out, ytServer, keys.YoutubeKey)
	out = appendDestination(out, keys.TiktokServer, keys.TiktokKey)
	return dedupe(out)
}

// KeysFromLiveSession turns a live session into local keys so a manual
// restart can reuse it. Platforms switched off in PlatformsEnabled are left
// empty.
func KeysFromLiveSession(ls types.LiveSession) types.LocalKeys {
	var keys types.LocalKeys
	enabled := func(platform string) bool {
		on, ok := ls.PlatformsEnabled[platform]
		return !ok || on
	}
	primary := func(platform string) *types.PrimaryDestination {
		if ls.Primary != nil && ls.Primary.Platform == platform && ls.Primary.StreamKey != "" {
			return ls.Primary
		}
		return nil
	}

	if enabled("facebook") {
		if _, key := platformFields(ls, "facebook"); key != "" {
			keys.FacebookKey = key
		} else if p := primary("facebook"); p != nil {
			keys.FacebookKey = p.StreamKey
		}
	}

	if enabled("youtube") {
		if live := platformLive(ls, "youtube"); live != nil {
			keys.YoutubeServer = orDefault(live.ServerURL, YoutubeSecureRTMP)
			keys.YoutubeKey = live.StreamKey
		} else if p := primary("youtube"); p != nil {
			keys.YoutubeServer = orDefault(p.ServerURL, YoutubeSecureRTMP)
			keys.YoutubeKey = p.StreamKey
		}
	}

	if enabled("tiktok") {
		if live := platformLive(ls, "tiktok"); live != nil {
			keys.TiktokServer = live.ServerURL
			keys.TiktokKey = live.StreamKey
		}
	}
	return keys
}

func platformLive(ls types.LiveSession, platform string) *types.Destination {
	p, ok := ls.Platforms[platform]
	if !ok {
		return nil
	}
	return p.Live
}

func platformFields(ls types.LiveSession, platform string) (server, key string) {
	if live := platformLive(ls, platform); live != nil {
		return live.ServerURL, live.StreamKey
	}
	return "", ""
}

func appendDestination(out []types.Destination, server, key string) []types.Destination {
	d := types.Destination{ServerURL: strings.TrimSpace(server), StreamKey: strings.TrimSpace(key)}
	if !d.Valid() {
		return out
	}
	return append(out, d)
}

func dedupe(in []types.Destination) []types.Destination {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, d := range in {
		u := d.JoinURL()
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, d)
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
