package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/types"
)

// Service plays back a fixed list of matches, advancing one entry every time
// Advance is called. It never talks to the network.
type Service struct {
	config *Config
	log    logrus.FieldLogger

	mu       sync.Mutex
	index    int
	sessions []types.MatchID
	started  []types.MatchID
	ended    []types.MatchID
	scores   map[types.MatchID]int
}

type Config struct {
	Court types.Court
	// Matches are "<id>" or "<id>:<status>". An empty entry means no match.
	Matches []string
	// StreamKey is handed out as the facebook destination of every session
	StreamKey string
}

func New(config Config) *Service {
	if config.StreamKey == "" {
		config.StreamKey = "dummy-key"
	}
	return &Service{
		config: &config,
		log:    logrus.StandardLogger(),
		scores: make(map[types.MatchID]int),
	}
}

func (s *Service) SetLogger(log logrus.FieldLogger) {
	s.log = log
}

func (s *Service) Name() string {
	return "Dummy Service"
}

func (s *Service) Connect() error {
	return nil
}

// Advance moves to the next scripted match. The last entry sticks.
func (s *Service) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < len(s.config.Matches)-1 {
		s.index++
	}
}

func (s *Service) CurrentMatch(ctx context.Context, court types.CourtID) (types.CourtMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := types.CourtMatch{Court: s.config.Court}
	if res.Court.ID == "" {
		res.Court.ID = court
	}
	if len(s.config.Matches) == 0 || s.config.Matches[s.index] == "" {
		return res, nil
	}
	id, status, _ := strings.Cut(s.config.Matches[s.index], ":")
	if status == "" {
		status = "scheduled"
	}
	res.Match = &types.Match{ID: types.MatchID(id), Code: id, Status: status}
	return res, nil
}

func (s *Service) CreateLiveSession(ctx context.Context, match types.MatchID) (types.LiveSession, error) {
	s.mu.Lock()
	s.sessions = append(s.sessions, match)
	s.mu.Unlock()
	s.log.Debugf("Dummy live session for %s", match)

	return types.LiveSession{
		OK: true,
		Platforms: map[string]types.PlatformLive{
			"facebook": {Live: &types.Destination{
				ServerURL: "rtmps://live-api-s.facebook.com:443/rtmp/",
				StreamKey: s.config.StreamKey,
			}},
		},
		PlatformsEnabled: map[string]bool{"facebook": true},
	}, nil
}

func (s *Service) NotifyStreamStarted(ctx context.Context, match types.MatchID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, match)
	return nil
}

func (s *Service) NotifyStreamEnded(ctx context.Context, match types.MatchID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, match)
	return nil
}

// OverlaySnapshot returns a scoreboard where team A gains a point per call.
func (s *Service) OverlaySnapshot(ctx context.Context, match types.MatchID) ([]byte, error) {
	s.mu.Lock()
	s.scores[match]++
	points := s.scores[match] % 12
	s.mu.Unlock()

	return json.Marshal(map[string]interface{}{
		"tournament": map[string]string{"name": "Dummy Open"},
		"teams": map[string]interface{}{
			"A": map[string]string{"name": "Team A"},
			"B": map[string]string{"name": "Team B"},
		},
		"currentGame": 0,
		"gameScores":  []map[string]int{{"a": points, "b": 0}},
		"serve":       map[string]interface{}{"side": "A", "server": 1},
		"code":        fmt.Sprint(match),
	})
}

// Sessions lists every match a live session was created for.
func (s *Service) Sessions() []types.MatchID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MatchID(nil), s.sessions...)
}

func (s *Service) Started() []types.MatchID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MatchID(nil), s.started...)
}

func (s *Service) Ended() []types.MatchID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MatchID(nil), s.ended...)
}
