// Package handoff implements the textual handoff convention used by stages to
// transfer control: a first line of the form "HANDOFF: <name>" followed by the
// payload to forward.
package handoff

import (
	"strings"
)

type (
	// Request is a parsed handoff: the requested handoff name (or target stage
	// id) and the payload to forward.
	Request struct {
		// Name is the handoff name or stage id named after the prefix.
		Name string
		// Payload is the text following the handoff line. Empty means the issuing
		// stage input is forwarded unchanged.
		Payload string
	}

	// Filter transforms a forwarded payload before it becomes the next stage input.
	Filter func(payload string) string
)

// Prefix is the token that marks a handoff.
const Prefix = "HANDOFF:"

// Parse reports whether text follows the handoff convention and returns the
// request. Leading whitespace is ignored and the prefix is case-insensitive.
func Parse(text string) (Request, bool) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if len(trimmed) < len(Prefix) || !strings.EqualFold(trimmed[:len(Prefix)], Prefix) {
		return Request{}, false
	}
	rest := trimmed[len(Prefix):]
	line, payload, _ := strings.Cut(rest, "\n")
	name := strings.TrimSpace(line)
	if name == "" {
		return Request{}, false
	}
	if f := strings.Fields(name); len(f) > 0 {
		name = f[0]
	}
	return Request{Name: name, Payload: strings.TrimSpace(payload)}, true
}

// Is reports whether text follows the handoff convention.
func Is(text string) bool {
	_, ok := Parse(text)
	return ok
}

// Format renders a handoff to name carrying payload.
func Format(name, payload string) string {
	if payload == "" {
		return Prefix + " " + name
	}
	return Prefix + " " + name + "\n" + payload
}
