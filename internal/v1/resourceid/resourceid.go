// Package resourceid implements the deterministic codec for resource
// identifiers: either a root "type:id" or a sub-resource
// "type:id/subType:subId".
package resourceid

import (
	"fmt"
	"regexp"
)

// subPattern matches a trailing "/<word>:<rest>" suffix where <rest> contains
// no further "/". Only this exact trailing shape is treated as a sub-resource
// suffix; a path-like identifier containing "/" elsewhere in the remainder
// never triggers sub-resource interpretation.
var subPattern = regexp.MustCompile(`^(.+)/([^/:]+):([^/]+)$`)

// ID is a parsed resource identifier.
type ID struct {
	Type          string
	Identifier    string
	SubType       string
	SubIdentifier string
}

// IsSubResource reports whether id carries a sub-resource part.
func (id ID) IsSubResource() bool {
	return id.SubType != ""
}

// ParentID returns "type:identifier", the root resource this id belongs to.
func (id ID) ParentID() string {
	return id.Type + ":" + id.Identifier
}

// String rebuilds the canonical wire form of id. Build(Parse(s)) == s for
// every legal s.
func (id ID) String() string {
	if id.IsSubResource() {
		return fmt.Sprintf("%s:%s/%s:%s", id.Type, id.Identifier, id.SubType, id.SubIdentifier)
	}
	return id.Type + ":" + id.Identifier
}

// Build constructs the canonical string form directly from parts.
func Build(resourceType, identifier, subType, subIdentifier string) string {
	id := ID{Type: resourceType, Identifier: identifier, SubType: subType, SubIdentifier: subIdentifier}
	return id.String()
}

// Parse decodes s into an ID. It fails if s contains no ":".
//
// s is split on the first ":" into type and remainder. If remainder matches
// the trailing "/<word>:<rest>" suffix, the three captures are identifier,
// subType, and subIdentifier. Otherwise the whole remainder is the
// identifier. Identifiers may themselves legally contain "/" (e.g.
// "page:/patient/12345"); only a trailing "/<word>:<rest>" suffix is ever
// interpreted as sub-resource syntax.
func Parse(s string) (ID, error) {
	colon := -1
	for i, c := range s {
		if c == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return ID{}, fmt.Errorf("resourceid: %q has no type:id separator", s)
	}

	resourceType := s[:colon]
	remainder := s[colon+1:]

	if m := subPattern.FindStringSubmatch(remainder); m != nil {
		return ID{
			Type:          resourceType,
			Identifier:    m[1],
			SubType:       m[2],
			SubIdentifier: m[3],
		}, nil
	}

	return ID{Type: resourceType, Identifier: remainder}, nil
}
