package handoff

import "strings"

// toolMarkers are line prefixes that identify tool call transcripts.
var toolMarkers = []string{
	"call_tool",
	"tool_call:",
	"tool call:",
	"tool output:",
	"tool_output:",
	"-- tool was called",
	"-- tool output:",
}

// RemoveToolArtifacts drops tool call transcripts from a payload: lines
// starting with a tool marker and fenced blocks tagged "tool".
func RemoveToolArtifacts(payload string) string {
	var out []string
	inFence := false
	for _, line := range strings.Split(payload, "\n") {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if inFence {
			if strings.HasPrefix(trimmed, "```") {
				inFence = false
			}
			continue
		}
		if trimmed == "```tool" || strings.HasPrefix(trimmed, "```tool_") {
			inFence = true
			continue
		}
		if isToolLine(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isToolLine(lower string) bool {
	for _, m := range toolMarkers {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return false
}

// Apply runs f on payload, returning payload unchanged when f is nil.
func Apply(f Filter, payload string) string {
	if f == nil {
		return payload
	}
	return f(payload)
}
