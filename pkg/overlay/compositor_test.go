package overlay

import (
	"bytes"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotJSON = `{
	"tournament": {"name": "Spring Open"},
	"teams": {"A": {"name": "Nguyen / Tran"}, "B": {"name": "Le / Pham", "serving": true}},
	"currentGame": 1,
	"gameScores": [{"a": 11, "b": 7}, {"a": 4, "b": 9}],
	"score": {"a": 1, "b": 0}
}`

func surface() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 1280, 720))
}

func isGold(c color.RGBA) bool {
	return c.R > 200 && c.G > 150 && c.B < 60
}

func TestParseSnapshot(t *testing.T) {
	assert := assert.New(t)

	snap, err := ParseSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)
	assert.Equal("Spring Open", snap.TournamentName)
	assert.Equal("Nguyen / Tran", snap.TeamA)
	assert.Equal(Serve{Team: TeamB}, snap.Serve)

	score, ok := snap.CurrentScore()
	assert.True(ok)
	assert.Equal(Score{A: 4, B: 9}, score)

	a, b := snap.GamesWon()
	assert.Equal(1, a)
	assert.Equal(0, b)

	flat, err := ParseSnapshot([]byte(`{"tournamentName": "Flat Cup", "teamA": {"name": "X"}, "score": {"a": 3, "b": 5}}`))
	require.NoError(t, err)
	assert.Equal("Flat Cup", flat.TournamentName)
	score, ok = flat.CurrentScore()
	assert.True(ok)
	assert.Equal(Score{A: 3, B: 5}, score)

	empty, err := ParseSnapshot([]byte(`{}`))
	require.NoError(t, err)
	_, ok = empty.CurrentScore()
	assert.False(ok)

	_, err = ParseSnapshot([]byte(`null`))
	assert.Error(err)
	_, err = ParseSnapshot([]byte(`{`))
	assert.Error(err)
}

func TestScoreboardAlwaysDrawn(t *testing.T) {
	assert := assert.New(t)
	comp := NewCompositor()
	dst := surface()

	// no snapshot and every layer off still paints the scoreboard box
	comp.Render(dst, Layers{})
	assert.NotZero(dst.RGBAAt(30, 130).A)
	// timer area stays transparent
	assert.Zero(dst.RGBAAt(600, 30).A)

	comp.Render(dst, Layers{Timer: true})
	timer := dst.RGBAAt(600, 30)
	assert.NotZero(timer.A)
	assert.Greater(timer.R, timer.G)
}

func TestSetSnapshotNilRetains(t *testing.T) {
	assert := assert.New(t)
	comp := NewCompositor()

	snap, err := ParseSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)
	comp.SetSnapshot(snap)
	comp.SetSnapshot(nil)
	assert.Same(snap, comp.Snapshot())

	comp.Reset()
	assert.Nil(comp.Snapshot())
}

func TestServeIndicator(t *testing.T) {
	assert := assert.New(t)
	comp := NewCompositor()
	dst := surface()
	dotA, dotB := ScoreboardDots(dst.Bounds())

	snap, err := ParseSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)
	comp.SetSnapshot(snap)
	comp.Render(dst, Layers{})
	assert.True(isGold(dst.RGBAAt(dotB.X+10, dotB.Y)), "ring around B")
	assert.False(isGold(dst.RGBAAt(dotA.X+10, dotA.Y)), "no ring around A")

	noServe, err := ParseSnapshot([]byte(`{"teams": {"A": {"name": "x"}}}`))
	require.NoError(t, err)
	comp.SetSnapshot(noServe)
	comp.Render(dst, Layers{})
	assert.False(isGold(dst.RGBAAt(dotA.X+10, dotA.Y)))
	assert.False(isGold(dst.RGBAAt(dotB.X+10, dotB.Y)))
	assert.NotZero(dst.RGBAAt(30, 130).A)
}

func TestRenderIsStateless(t *testing.T) {
	assert := assert.New(t)
	comp := NewCompositor()
	snap, err := ParseSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)
	comp.SetSnapshot(snap)
	comp.SetElapsed(95 * time.Second)
	comp.SetViewers(812)
	comp.SetLive(true)
	comp.SetBranding(Branding{Logo: "PICKLE", Sponsors: []string{"ACME"}, Social: []string{"@court1"}})

	all := Layers{true, true, true, true, true, true, true, true, true, true}
	first, second := surface(), surface()
	comp.Render(first, all)
	comp.Render(second, all)
	comp.Render(second, all)
	assert.True(bytes.Equal(first.Pix, second.Pix))
}

func TestLiveBadgeFollowsBroadcast(t *testing.T) {
	assert := assert.New(t)
	comp := NewCompositor()
	dst := surface()
	badge := image.Pt(1140, 42)

	comp.Render(dst, Layers{LiveBadge: true})
	assert.Zero(dst.RGBAAt(badge.X, badge.Y).A, "no badge before going live")

	comp.SetLive(true)
	comp.Render(dst, Layers{LiveBadge: true})
	c := dst.RGBAAt(badge.X, badge.Y)
	assert.True(c.R > 200 && c.G < 100, "red badge while live, got %v", c)

	comp.Render(dst, Layers{})
	assert.Zero(dst.RGBAAt(badge.X, badge.Y).A, "layer off hides the badge")

	comp.SetLive(false)
	comp.Render(dst, Layers{LiveBadge: true})
	assert.Zero(dst.RGBAAt(badge.X, badge.Y).A)
}

func TestRenderSmallSurface(t *testing.T) {
	assert := assert.New(t)
	comp := NewCompositor()
	dst := image.NewRGBA(image.Rect(0, 0, 640, 360))

	assert.NotPanics(func() {
		comp.Render(dst, Layers{true, true, true, true, true, true, true, true, true, true})
	})
	dotA, _ := ScoreboardDots(dst.Bounds())
	assert.Equal(image.Pt(19, 33), dotA)
}

func TestCompose(t *testing.T) {
	assert := assert.New(t)

	frame := image.NewRGBA(image.Rect(0, 0, 320, 180))
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i+1] = 200
		frame.Pix[i+3] = 255
	}
	overlay := surface()
	NewCompositor().Render(overlay, Layers{})

	dst := surface()
	Compose(dst, frame, overlay)
	assert.Equal(uint8(200), dst.RGBAAt(1000, 600).G)
	// scoreboard covers the video in its corner
	assert.Less(dst.RGBAAt(30, 130).G, uint8(100))

	Compose(dst, nil, nil)
	assert.Equal(color.RGBA{0, 0, 0, 255}, dst.RGBAAt(1000, 600))
}

func TestParseLayers(t *testing.T) {
	assert := assert.New(t)

	l, err := ParseLayers(nil)
	assert.NoError(err)
	assert.Equal(DefaultLayers(), l)

	l, err = ParseLayers([]string{"qrCode", " viewerCount"})
	assert.NoError(err)
	assert.Equal(Layers{QR: true, ViewerCount: true}, l)

	_, err = ParseLayers([]string{"confetti"})
	assert.Error(err)
}
