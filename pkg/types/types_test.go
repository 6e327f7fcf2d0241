package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRTMP(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("rtmps://live-api-s.facebook.com:443/rtmp/FB-1", JoinRTMP("rtmps://live-api-s.facebook.com:443/rtmp/", "FB-1"))
	assert.Equal("rtmp://a.rtmp.youtube.com/live2/yt", JoinRTMP(" rtmp://a.rtmp.youtube.com/live2 ", "yt"))
	assert.Equal("", JoinRTMP("rtmp://a", ""))
	assert.Equal("", JoinRTMP("", "key"))
}

func TestDestinationAcceptsBothSpellings(t *testing.T) {
	assert := assert.New(t)

	var snake, camel Destination
	require.NoError(t, json.Unmarshal([]byte(`{"server_url":"rtmp://a","stream_key":"k"}`), &snake))
	require.NoError(t, json.Unmarshal([]byte(`{"serverUrl":"rtmp://a","streamKey":"k"}`), &camel))

	assert.Equal(snake, camel)
	assert.Equal("rtmp://a/k", snake.JoinURL())
}

func TestLiveSessionDecode(t *testing.T) {
	assert := assert.New(t)

	payload := `{
		"ok": true,
		"platforms": {"facebook": {"live": {"server_url": "rtmps://fb/", "stream_key": "abc"}}},
		"primary": {"platform": "youtube", "server_url": "rtmp://yt", "stream_key": "def"},
		"destinations": [{"server_url": "rtmp://x", "stream_key": "y"}]
	}`
	var ls LiveSession
	require.NoError(t, json.Unmarshal([]byte(payload), &ls))

	assert.True(ls.OK)
	assert.Equal("abc", ls.Platforms["facebook"].Live.StreamKey)
	assert.Equal("youtube", ls.Primary.Platform)
	assert.Equal("rtmp://yt", ls.Primary.ServerURL)
	assert.Len(ls.Destinations, 1)
}

func TestMatchTerminal(t *testing.T) {
	assert := assert.New(t)

	assert.True(Match{Status: "finished"}.Terminal())
	assert.True(Match{Status: "Completed"}.Terminal())
	assert.False(Match{Status: "scheduled"}.Terminal())
	assert.False(Match{Status: "live"}.Terminal())
}

func TestQualityPreset(t *testing.T) {
	assert := assert.New(t)

	p, err := QualityPreset("")
	assert.NoError(err)
	assert.Equal(EncodeParams{Width: 1280, Height: 720, FPS: 30, VideoBitrateKbps: 2500}, p)

	p, err = QualityPreset("LOW")
	assert.NoError(err)
	assert.Equal(24, p.FPS)

	_, err = QualityPreset("8k")
	assert.Error(err)
}
