package overlay

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type Score struct {
	A int
	B int
}

// Snapshot is one decoded overlay payload. It is never modified after
// ParseSnapshot returns.
type Snapshot struct {
	TournamentName string
	TeamA          string
	TeamB          string
	CurrentGame    int
	GameScores     []Score
	// Score is the aggregate fallback used when per game scores are missing.
	Score *Score
	Serve Serve
}

// ParseSnapshot decodes an overlay payload. Both the nested shape
// ({"tournament":{"name"},"teams":{"A":{"name"}}}) and the flat one
// ({"tournamentName","teamA":{"name"}}) are accepted.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode overlay snapshot")
	}
	if doc == nil {
		return nil, errors.New("overlay snapshot is null")
	}

	s := &Snapshot{
		TournamentName: firstString(doc, []string{"tournament", "name"}, []string{"tournamentName"}),
		TeamA:          firstString(doc, []string{"teams", "A", "name"}, []string{"teamA", "name"}),
		TeamB:          firstString(doc, []string{"teams", "B", "name"}, []string{"teamB", "name"}),
		Serve:          ResolveServe(doc),
	}

	if n, ok := lookup(doc, "currentGame").(float64); ok && n >= 0 {
		s.CurrentGame = int(n)
	} else if n, ok := lookup(doc, "currentGameIndex").(float64); ok && n >= 0 {
		s.CurrentGame = int(n)
	}

	if games, ok := doc["gameScores"].([]interface{}); ok {
		for _, g := range games {
			gm, _ := g.(map[string]interface{})
			a, _ := lookup(gm, "a").(float64)
			b, _ := lookup(gm, "b").(float64)
			s.GameScores = append(s.GameScores, Score{A: int(a), B: int(b)})
		}
	}

	if score, ok := doc["score"].(map[string]interface{}); ok {
		a, aok := score["a"].(float64)
		b, bok := score["b"].(float64)
		if aok || bok {
			s.Score = &Score{A: int(a), B: int(b)}
		}
	}

	return s, nil
}

// CurrentScore returns the running game's score, falling back to the
// aggregate score. ok is false when neither is present.
func (s *Snapshot) CurrentScore() (score Score, ok bool) {
	if s == nil {
		return Score{}, false
	}
	if s.CurrentGame < len(s.GameScores) {
		return s.GameScores[s.CurrentGame], true
	}
	if s.Score != nil {
		return *s.Score, true
	}
	return Score{}, false
}

// GamesWon counts the finished games each side has taken.
func (s *Snapshot) GamesWon() (a, b int) {
	if s == nil {
		return 0, 0
	}
	for i, g := range s.GameScores {
		if i >= s.CurrentGame {
			break
		}
		switch {
		case g.A > g.B:
			a++
		case g.B > g.A:
			b++
		}
	}
	return a, b
}

func firstString(doc map[string]interface{}, paths ...[]string) string {
	for _, path := range paths {
		if v, ok := lookup(doc, path...).(string); ok && v != "" {
			return v
		}
	}
	return ""
}
