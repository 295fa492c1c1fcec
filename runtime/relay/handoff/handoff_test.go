package handoff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Request
		ok   bool
	}{
		{"plain reply", "Hello! How can I help?", Request{}, false},
		{"name only", "HANDOFF: go_research", Request{Name: "go_research"}, true},
		{"case and whitespace", "  \n handoff:to_summary\n[1,2]", Request{Name: "to_summary", Payload: "[1,2]"}, true},
		{"payload trimmed", "HANDOFF: go_research\n\n  quantum computing  \n", Request{Name: "go_research", Payload: "quantum computing"}, true},
		{"extra words ignored", "HANDOFF: go_research please\nq", Request{Name: "go_research", Payload: "q"}, true},
		{"missing name", "HANDOFF:\npayload", Request{}, false},
		{"prefix mid text", "I will do HANDOFF: go_research", Request{}, false},
		{"short text", "HAND", Request{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.text)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.ok, Is(tc.text))
		})
	}
}

func TestFormatParses(t *testing.T) {
	req, ok := Parse(Format("to_summary", "payload line 1\nline 2"))
	require.True(t, ok)
	require.Equal(t, Request{Name: "to_summary", Payload: "payload line 1\nline 2"}, req)

	req, ok = Parse(Format("go_research", ""))
	require.True(t, ok)
	require.Equal(t, "go_research", req.Name)
	require.Empty(t, req.Payload)
}

func TestRemoveToolArtifacts(t *testing.T) {
	in := strings.Join([]string{
		"CALL_TOOL search_web {\"query\":\"q\"}",
		"Here are the findings:",
		"```tool",
		"{\"raw\": true}",
		"```",
		"-- Tool output: [..]",
		"[{\"title\":\"A\"}]",
	}, "\n")
	require.Equal(t, "Here are the findings:\n[{\"title\":\"A\"}]", RemoveToolArtifacts(in))
}

func TestApply(t *testing.T) {
	upper := Filter(strings.ToUpper)
	require.Equal(t, "x", Apply(nil, "x"))
	require.Equal(t, "X", Apply(upper, "x"))
}
