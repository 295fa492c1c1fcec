package stage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/session"
)

func TestResolve(t *testing.T) {
	d := &Descriptor{
		ID: "Research_Agent",
		Handoffs: []Handoff{
			{Name: "to_summary", Target: "Summary_Agent"},
			{Target: "Archive_Agent"},
		},
	}

	h, ok := d.Resolve("to_summary")
	require.True(t, ok)
	require.Equal(t, relay.Ident("Summary_Agent"), h.Target)

	h, ok = d.Resolve("Summary_Agent")
	require.True(t, ok)
	require.Equal(t, "to_summary", h.HandoffName())

	h, ok = d.Resolve("Archive_Agent")
	require.True(t, ok)
	require.Equal(t, "Archive_Agent", h.HandoffName())

	_, ok = d.Resolve("Triage_Agent")
	require.False(t, ok)
}

func TestRender(t *testing.T) {
	v := session.ViewOf(session.New("u1", "Ada"))
	require.Empty(t, (&Descriptor{ID: "x"}).Render(v))

	d := &Descriptor{ID: "x", Instructions: func(id relay.Ident, view session.View) string {
		return string(id) + ":" + view.Name()
	}}
	require.Equal(t, "x:Ada", d.Render(v))
	require.Equal(t, "hi", (&Descriptor{Instructions: Static("hi")}).Render(v))
}
