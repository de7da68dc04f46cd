package resourceid

import "testing"

func TestParseRoot(t *testing.T) {
	id, err := Parse("doc:42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Type != "doc" || id.Identifier != "42" || id.IsSubResource() {
		t.Fatalf("unexpected parse result: %+v", id)
	}
	if id.String() != "doc:42" {
		t.Fatalf("round-trip mismatch: %q", id.String())
	}
}

func TestParseSubResource(t *testing.T) {
	id, err := Parse("doc:42/tab:A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Type != "doc" || id.Identifier != "42" || id.SubType != "tab" || id.SubIdentifier != "A" {
		t.Fatalf("unexpected parse result: %+v", id)
	}
	if !id.IsSubResource() {
		t.Fatalf("expected sub-resource")
	}
	if id.ParentID() != "doc:42" {
		t.Fatalf("unexpected parent id: %q", id.ParentID())
	}
	if id.String() != "doc:42/tab:A" {
		t.Fatalf("round-trip mismatch: %q", id.String())
	}
}

func TestParsePathLikeIdentifierIsNotSubResource(t *testing.T) {
	// A "/" inside the identifier that is not followed by a trailing
	// "<word>:<rest>" clause must never be interpreted as a sub-resource.
	id, err := Parse("page:/patient/12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.IsSubResource() {
		t.Fatalf("path-like identifier misclassified as sub-resource: %+v", id)
	}
	if id.Identifier != "/patient/12345" {
		t.Fatalf("unexpected identifier: %q", id.Identifier)
	}
	if id.String() != "page:/patient/12345" {
		t.Fatalf("round-trip mismatch: %q", id.String())
	}
}

func TestParseNoSeparatorFails(t *testing.T) {
	if _, err := Parse("no-colon-here"); err == nil {
		t.Fatalf("expected error for missing separator")
	}
}

func TestBuildMatchesParse(t *testing.T) {
	cases := []struct {
		resourceType, identifier, subType, subIdentifier string
	}{
		{"doc", "42", "", ""},
		{"doc", "42", "tab", "A"},
		{"surgery", "room-7", "checklist", "pre-op"},
	}
	for _, c := range cases {
		s := Build(c.resourceType, c.identifier, c.subType, c.subIdentifier)
		id, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if id.Type != c.resourceType || id.Identifier != c.identifier ||
			id.SubType != c.subType || id.SubIdentifier != c.subIdentifier {
			t.Fatalf("round-trip mismatch for %+v: got %+v", c, id)
		}
		if id.String() != s {
			t.Fatalf("build(parse(%q)) = %q, want %q", s, id.String(), s)
		}
	}
}
