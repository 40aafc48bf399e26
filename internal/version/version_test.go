package version

import (
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	b := Current()
	if b.Version != Version() {
		t.Fatalf("Current().Version = %q, want %q", b.Version, Version())
	}
	if b.Commit == "" || b.Date == "" {
		t.Fatalf("build info must not be empty: %+v", b)
	}
	if len(b.Commit) > 12 && commit == "" {
		t.Fatalf("vcs revision must be shortened, got %q", b.Commit)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"storefront", Version(), "commit", "built"} {
		if !strings.Contains(s, part) {
			t.Fatalf("%q does not contain %q", s, part)
		}
	}
}

func TestBuildFields(t *testing.T) {
	fields := Build{Version: "v1.0.0", Commit: "abc", Date: "2025-01-01"}.Fields()
	if fields["version"] != "v1.0.0" || fields["commit"] != "abc" || fields["build_date"] != "2025-01-01" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
