package overlay

import (
	"regexp"
	"strconv"
	"strings"
)

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// Serve says which team is serving and, when known, which of its players.
// Number is zero when the server is unknown.
type Serve struct {
	Team   Team
	Number int
}

// Unresolved is returned when no serve information could be found.
var Unresolved = Serve{}

func (s Serve) Resolved() bool {
	return s.Team == TeamA || s.Team == TeamB
}

var serveTagRegex = regexp.MustCompile(`^([AB])\s*([12])?$`)

// Checked in order, the first present field wins.
var (
	serveTeamPaths = [][]string{
		{"serve", "team"},
		{"serve", "side"},
		{"servingTeam"},
		{"serveTeam"},
		{"serverTeam"},
		{"server"},
		{"status", "servingTeam"},
		{"service", "team"},
	}
	serveNumberPaths = [][]string{
		{"serve", "number"},
		{"serve", "serverNumber"},
		{"serve", "server"},
		{"serverNumber"},
		{"service", "serverNumber"},
		{"service", "number"},
		{"service", "index"},
	}
)

// ResolveServe works through the serve conventions seen in overlay payloads:
// the structured serve object, alternate field names, a combined tag such as
// "A2", and finally a serving flag on each team.
func ResolveServe(doc map[string]interface{}) Serve {
	if doc == nil {
		return Unresolved
	}

	number := 0
	for _, path := range serveNumberPaths {
		if n, ok := asServerNumber(lookup(doc, path...)); ok {
			number = n
			break
		}
	}

	// The first team field present decides. A value that is set but names
	// neither side leaves the serve unresolved instead of falling through.
	var team Team
	var claimed interface{}
	for _, path := range serveTeamPaths {
		if v := lookup(doc, path...); v != nil {
			claimed = v
			break
		}
	}
	if s, ok := claimed.(string); ok {
		if m := serveTagRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s))); m != nil {
			team = Team(m[1])
			if m[2] != "" && number == 0 {
				number, _ = strconv.Atoi(m[2])
			}
		}
	}

	if team == "" && !truthy(claimed) {
		if serving, _ := lookup(doc, "teams", "A", "serving").(bool); serving {
			team = TeamA
		} else if serving, _ := lookup(doc, "teams", "B", "serving").(bool); serving {
			team = TeamB
		}
	}

	if team == "" {
		return Unresolved
	}
	return Serve{Team: team, Number: number}
}

func lookup(doc map[string]interface{}, path ...string) interface{} {
	var cur interface{} = doc
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// truthy treats absent, false, zero and empty string as unset.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}

func asServerNumber(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n >= 1 && n == float64(int(n)) {
			return int(n), true
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err == nil && i >= 1 {
			return i, true
		}
	}
	return 0, false
}
