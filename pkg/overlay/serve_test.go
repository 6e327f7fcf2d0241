package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]interface{} {
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestResolveServeConventions(t *testing.T) {
	assert := assert.New(t)

	want := Serve{Team: TeamB, Number: 2}
	payloads := map[string]string{
		"structured":    `{"serve": {"team": "B", "number": 2}}`,
		"backend side":  `{"serve": {"side": "B", "server": 2}}`,
		"alternate":     `{"servingTeam": "B", "serverNumber": 2}`,
		"service":       `{"service": {"team": "b", "index": 2}}`,
		"status":        `{"status": {"servingTeam": "B"}, "service": {"serverNumber": "2"}}`,
		"embedded":      `{"server": "B2"}`,
		"embedded gap":  `{"serveTeam": " b 2 "}`,
		"team flag":     `{"teams": {"A": {"serving": false}, "B": {"serving": true}}, "serverNumber": 2}`,
	}
	for name, payload := range payloads {
		assert.Equal(want, ResolveServe(decode(t, payload)), name)
	}
}

func TestResolveServePrecedence(t *testing.T) {
	assert := assert.New(t)

	// structured beats alternates and flags
	doc := decode(t, `{"serve": {"team": "A", "number": 1}, "servingTeam": "B", "teams": {"B": {"serving": true}}}`)
	assert.Equal(Serve{Team: TeamA, Number: 1}, ResolveServe(doc))

	// an explicit number wins over the one embedded in the tag
	doc = decode(t, `{"server": "A2", "serverNumber": 1}`)
	assert.Equal(Serve{Team: TeamA, Number: 1}, ResolveServe(doc))

	// later names are not consulted once an earlier one is set
	doc = decode(t, `{"servingTeam": "A", "server": "B2"}`)
	assert.Equal(Serve{Team: TeamA}, ResolveServe(doc))
}

func TestResolveServeFirstPresentFieldDecides(t *testing.T) {
	assert := assert.New(t)

	// a set value that names no side blocks both later names and team flags
	doc := decode(t, `{"servingTeam": "home", "server": "B", "teams": {"A": {"serving": true}}}`)
	assert.Equal(Unresolved, ResolveServe(doc))

	doc = decode(t, `{"server": 2, "teams": {"A": {"serving": true}}}`)
	assert.Equal(Unresolved, ResolveServe(doc))

	doc = decode(t, `{"serve": {"team": "C"}, "servingTeam": "B"}`)
	assert.Equal(Unresolved, ResolveServe(doc))

	// unset values still fall back to the team flags
	doc = decode(t, `{"servingTeam": "", "teams": {"B": {"serving": true}}}`)
	assert.Equal(Serve{Team: TeamB}, ResolveServe(doc))

	doc = decode(t, `{"serve": {"team": null}, "server": 0, "teams": {"A": {"serving": true}}}`)
	assert.Equal(Serve{Team: TeamA}, ResolveServe(doc))

	doc = decode(t, `{"servingTeam": false, "serverNumber": 1, "teams": {"B": {"serving": true}}}`)
	assert.Equal(Serve{Team: TeamB, Number: 1}, ResolveServe(doc))
}

func TestResolveServeUnresolved(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(Unresolved, ResolveServe(nil))
	assert.Equal(Unresolved, ResolveServe(decode(t, `{}`)))
	assert.Equal(Unresolved, ResolveServe(decode(t, `{"serverNumber": 2, "teams": {"A": {"name": "x"}}}`)))
	assert.False(ResolveServe(decode(t, `{"serve": {"team": "C"}}`)).Resolved())
}
