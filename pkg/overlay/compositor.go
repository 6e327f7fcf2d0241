package overlay

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Shown wherever the snapshot is missing a value.
const placeholder = "-"

// Layers toggles the optional overlay layers. The scoreboard is not listed
// because it is always drawn.
type Layers struct {
	Timer           bool `json:"timer"`
	TournamentName  bool `json:"tournamentName"`
	Logo            bool `json:"logo"`
	Sponsors        bool `json:"sponsors"`
	LowerThird      bool `json:"lowerThird"`
	Social          bool `json:"socialMedia"`
	QR              bool `json:"qrCode"`
	FrameDecoration bool `json:"frameDecor"`
	LiveBadge       bool `json:"liveBadge"`
	ViewerCount     bool `json:"viewerCount"`
}

func DefaultLayers() Layers {
	return Layers{
		Timer:          true,
		TournamentName: true,
		Logo:           true,
		LiveBadge:      true,
	}
}

// ParseLayers enables the layers named in names, using the same names as the
// JSON form. No names selects DefaultLayers.
func ParseLayers(names []string) (Layers, error) {
	if len(names) == 0 {
		return DefaultLayers(), nil
	}
	var l Layers
	byName := map[string]*bool{
		"timer":          &l.Timer,
		"tournamentName": &l.TournamentName,
		"logo":           &l.Logo,
		"sponsors":       &l.Sponsors,
		"lowerThird":     &l.LowerThird,
		"socialMedia":    &l.Social,
		"qrCode":         &l.QR,
		"frameDecor":     &l.FrameDecoration,
		"liveBadge":      &l.LiveBadge,
		"viewerCount":    &l.ViewerCount,
	}
	for _, name := range names {
		on, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return Layers{}, errors.Errorf("unknown overlay layer %q", name)
		}
		*on = true
	}
	return l, nil
}

// Branding is the static text shown by the logo, sponsor, lower third, social
// and QR layers.
type Branding struct {
	Logo          string
	Sponsors      []string
	LowerTitle    string
	LowerSubtitle string
	Social        []string
	QRCaption     string
}

type Compositor struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	elapsed  time.Duration
	viewers  int
	live     bool
	branding Branding
}

func NewCompositor() *Compositor {
	return &Compositor{}
}

// SetSnapshot replaces the retained snapshot. A nil snapshot is ignored so a
// failed fetch keeps the last good scoreboard on screen.
func (c *Compositor) SetSnapshot(s *Snapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()
}

// Reset forgets the retained snapshot, used when the court moves to another
// match.
func (c *Compositor) Reset() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

func (c *Compositor) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Compositor) SetElapsed(d time.Duration) {
	c.mu.Lock()
	c.elapsed = d
	c.mu.Unlock()
}

func (c *Compositor) SetViewers(n int) {
	c.mu.Lock()
	c.viewers = n
	c.mu.Unlock()
}

// SetLive shows or hides the live badge. The badge layer draws nothing until
// the broadcast is live.
func (c *Compositor) SetLive(live bool) {
	c.mu.Lock()
	c.live = live
	c.mu.Unlock()
}

func (c *Compositor) SetBranding(b Branding) {
	c.mu.Lock()
	c.branding = b
	c.mu.Unlock()
}

type frameState struct {
	snapshot *Snapshot
	elapsed  time.Duration
	viewers  int
	live     bool
	branding Branding
}

// Render clears dst and draws the overlay for the current state.
func (c *Compositor) Render(dst *image.RGBA, layers Layers) {
	c.mu.RLock()
	st := frameState{
		snapshot: c.snapshot,
		elapsed:  c.elapsed,
		viewers:  c.viewers,
		live:     c.live,
		branding: c.branding,
	}
	c.mu.RUnlock()

	clearSurface(dst)
	g := newGeometry(dst.Bounds())

	drawScoreboard(dst, g, st.snapshot)

	if layers.Timer {
		drawTimer(dst, g, st.elapsed)
	}
	if layers.TournamentName && st.snapshot != nil {
		drawTournamentName(dst, g, st.snapshot)
	}
	if layers.Logo {
		drawLogo(dst, g, st.branding)
	}
	if layers.Sponsors {
		drawSponsors(dst, g, st.branding)
	}
	if layers.LowerThird {
		drawLowerThird(dst, g, st.branding)
	}
	if layers.Social {
		drawSocial(dst, g, st.branding)
	}
	if layers.QR {
		drawQR(dst, g, st.branding)
	}
	if layers.FrameDecoration {
		drawFrameDecoration(dst, g)
	}
	if layers.LiveBadge && st.live {
		drawLiveBadge(dst, g)
	}
	if layers.ViewerCount {
		drawViewerCount(dst, g, st.viewers)
	}
}

// Compose scales frame into dst and draws the rendered overlay on top. A nil
// frame leaves a black background.
func Compose(dst *image.RGBA, frame image.Image, overlay *image.RGBA) {
	if frame != nil {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), black, image.Point{}, draw.Src)
	}
	if overlay != nil {
		draw.Draw(dst, dst.Bounds(), overlay, overlay.Bounds().Min, draw.Over)
	}
}

// geometry maps the 1280 wide design grid onto the surface.
type geometry struct {
	w, h  int
	scale float64
}

func newGeometry(b image.Rectangle) geometry {
	return geometry{
		w:     b.Dx(),
		h:     b.Dy(),
		scale: math.Min(float64(b.Dx())/1280, 1),
	}
}

func (g geometry) s(v float64) int {
	return int(math.Round(v * g.scale))
}

func (g geometry) rect(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h)
}

// ScoreboardDots returns the centres of the team A and team B dots.
func ScoreboardDots(b image.Rectangle) (a, bDot image.Point) {
	g := newGeometry(b)
	x, y := g.s(20), g.s(20)
	return image.Pt(x+g.s(18), y+g.s(45)), image.Pt(x+g.s(18), y+g.s(85))
}

func drawScoreboard(dst *image.RGBA, g geometry, snap *Snapshot) {
	x, y := g.s(20), g.s(20)
	width := g.s(320)
	fillRoundRect(dst, g.rect(x, y, width, g.s(120)), g.s(12), boardFill)

	title, nameA, nameB := placeholder, placeholder, placeholder
	scoreA, scoreB := placeholder, placeholder
	serve := Unresolved
	if snap != nil {
		title = orPlaceholder(snap.TournamentName)
		nameA = orPlaceholder(snap.TeamA)
		nameB = orPlaceholder(snap.TeamB)
		if score, ok := snap.CurrentScore(); ok {
			scoreA, scoreB = strconv.Itoa(score.A), strconv.Itoa(score.B)
		}
		serve = snap.Serve
	}
	wonA, wonB := snap.GamesWon()

	drawText(dst, smallFace, mutedText, x+g.s(14), y+g.s(22), alignLeft, title)

	dotA, dotB := ScoreboardDots(dst.Bounds())
	fillCircle(dst, dotA.X, dotA.Y, g.s(5), teamADot)
	fillCircle(dst, dotB.X, dotB.Y, g.s(5), teamBDot)

	drawText(dst, largeFace, brightText, x+g.s(32), y+g.s(50), alignLeft, nameA)
	drawText(dst, largeFace, brightText, x+g.s(32), y+g.s(90), alignLeft, nameB)
	drawText(dst, largeFace, brightText, x+width-g.s(14), y+g.s(50), alignRight, scoreA)
	drawText(dst, largeFace, brightText, x+width-g.s(14), y+g.s(90), alignRight, scoreB)

	// games won sit left of the running score
	drawText(dst, smallFace, mutedText, x+width-g.s(60), y+g.s(50), alignRight, strconv.Itoa(wonA))
	drawText(dst, smallFace, mutedText, x+width-g.s(60), y+g.s(90), alignRight, strconv.Itoa(wonB))

	switch serve.Team {
	case TeamA:
		drawServeIndicator(dst, g, dotA, serve.Number)
	case TeamB:
		drawServeIndicator(dst, g, dotB, serve.Number)
	}
}

func drawServeIndicator(dst *image.RGBA, g geometry, at image.Point, number int) {
	width := g.s(3)
	if width < 1 {
		width = 1
	}
	strokeCircle(dst, at.X, at.Y, g.s(10), width, serveGold)
	if number > 0 {
		// beside the ring, the dot itself is too small for a glyph
		drawText(dst, smallFace, serveGold, at.X+g.s(12), at.Y+g.s(4), alignLeft, strconv.Itoa(number))
	}
}

func drawTimer(dst *image.RGBA, g geometry, elapsed time.Duration) {
	secs := int(elapsed / time.Second)
	text := fmt.Sprintf("%02d:%02d", secs/60, secs%60)
	x, y := g.w/2-g.s(80), g.s(20)
	fillRoundRect(dst, g.rect(x, y, g.s(160), g.s(50)), g.s(25), liveRed)
	drawText(dst, largeFace, white, g.w/2, y+g.s(32), alignCenter, text)
}

func drawTournamentName(dst *image.RGBA, g geometry, snap *Snapshot) {
	x, y := g.w-g.s(320), g.s(20)
	fillRoundRect(dst, g.rect(x, y, g.s(300), g.s(50)), g.s(10), panelFill)
	drawText(dst, largeFace, serveGold, x+g.s(150), y+g.s(32), alignCenter, orPlaceholder(snap.TournamentName))
}

func drawLogo(dst *image.RGBA, g geometry, b Branding) {
	x, y, size := g.w-g.s(170), g.s(90), g.s(150)
	fillRoundRect(dst, g.rect(x, y, size, g.s(60)), g.s(8), whitePanel)
	drawText(dst, largeFace, logoText, x+size/2, y+g.s(36), alignCenter, orPlaceholder(b.Logo))
}

func drawSponsors(dst *image.RGBA, g geometry, b Branding) {
	x, y := g.w-g.s(250), g.h-g.s(120)
	fillRoundRect(dst, g.rect(x, y, g.s(230), g.s(100)), g.s(8), whitePanel)
	for i, s := range b.Sponsors {
		if i == 3 {
			break
		}
		drawText(dst, smallFace, darkText, x+g.s(115), y+g.s(float64(25+i*25)), alignCenter, s)
	}
}

func drawLowerThird(dst *image.RGBA, g geometry, b Branding) {
	x, y, width := g.s(40), g.h-g.s(100), g.s(500)
	fillRoundRect(dst, g.rect(x, y, width, g.s(70)), g.s(35), liveRed)
	fillRect(dst, g.rect(x, y, max(g.s(4), 1), g.s(70)), white)
	drawText(dst, largeFace, white, x+g.s(20), y+g.s(30), alignLeft, b.LowerTitle)
	drawText(dst, smallFace, white, x+g.s(20), y+g.s(55), alignLeft, b.LowerSubtitle)
}

func drawSocial(dst *image.RGBA, g geometry, b Branding) {
	x, y := g.s(20), g.h-g.s(150)
	fillRoundRect(dst, g.rect(x, y, g.s(280), g.s(130)), g.s(10), panelFill)
	for i, handle := range b.Social {
		if i == 3 {
			break
		}
		drawText(dst, smallFace, white, x+g.s(20), y+g.s(float64(35+i*40)), alignLeft, handle)
	}
}

func drawQR(dst *image.RGBA, g geometry, b Branding) {
	x, y, size := g.w-g.s(130), g.h-g.s(130), g.s(110)
	fillRoundRect(dst, g.rect(x, y, size, size), g.s(8), white)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			if (i+j)%2 == 0 {
				fillRect(dst, g.rect(x+g.s(float64(10+i*11)), y+g.s(float64(10+j*11)), g.s(10), g.s(10)), black)
			}
		}
	}
	if b.QRCaption != "" {
		drawText(dst, smallFace, white, x+size/2, y-g.s(6), alignCenter, b.QRCaption)
	}
}

func drawFrameDecoration(dst *image.RGBA, g geometry) {
	fillRect(dst, g.rect(0, 0, g.w, 3), frameAccent)
	fillRect(dst, g.rect(0, g.h-3, g.w, 3), frameAccent)
	fillRect(dst, g.rect(0, 3, 3, g.h-6), frameAccent)
	fillRect(dst, g.rect(g.w-3, 3, 3, g.h-6), frameAccent)
	for _, p := range []image.Point{{10, 10}, {g.w - 20, 10}, {10, g.h - 20}, {g.w - 20, g.h - 20}} {
		fillCircle(dst, p.X, p.Y, 5, cornerAccent)
	}
}

func drawLiveBadge(dst *image.RGBA, g geometry) {
	x, y := g.w-g.s(150), g.s(20)
	fillRoundRect(dst, g.rect(x, y, g.s(130), g.s(45)), g.s(22), liveRed)
	fillCircle(dst, x+g.s(25), y+g.s(22), g.s(8), white)
	drawText(dst, largeFace, white, x+g.s(50), y+g.s(28), alignLeft, "LIVE")
}

func drawViewerCount(dst *image.RGBA, g geometry, viewers int) {
	x, y := g.w-g.s(150), g.s(75)
	fillRoundRect(dst, g.rect(x, y, g.s(130), g.s(40)), g.s(20), panelFill)
	drawText(dst, largeFace, white, x+g.s(20), y+g.s(26), alignLeft, strconv.Itoa(viewers))
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}
