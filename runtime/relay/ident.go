// Package relay provides strong type identifiers shared by the relay runtime
// packages.
package relay

// Ident is the strong type for stage identifiers (e.g., "triage", "research").
// Use this type when referencing stages in maps or APIs to avoid accidental
// mixing with free-form strings such as handoff names or tool identifiers.
type Ident string

// String returns the identifier as a plain string.
func (i Ident) String() string {
	return string(i)
}
