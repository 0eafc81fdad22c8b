package namedlock

import (
	"strings"
	"testing"
)

func coords() []Coordinate {
	return []Coordinate{
		{Kind: "artifact", GAV: "g:b:jar::1.0"},
		{Kind: "artifact", GAV: "g:a:jar::1.0"},
		{Kind: "metadata", GAV: "g:a:1.0:maven-metadata.xml"},
		{Kind: "artifact", GAV: "g:a:jar::1.0"}, // duplicate
	}
}

func TestGAVMapperSortedAndDeduped(t *testing.T) {
	names := NewGAVMapper().Names("/repo", coords())
	if len(names) != 3 {
		t.Fatalf("Expected 3 deduped names, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("Names not sorted: %v", names)
		}
	}
	if names[0] != "artifact:g:a:jar::1.0" {
		t.Errorf("Unexpected first name %s", names[0])
	}
}

func TestFileGAVMapperIsPathSafe(t *testing.T) {
	names := NewFileGAVMapper().Names("/repo", coords())
	for _, n := range names {
		if strings.ContainsAny(n, ":") {
			t.Errorf("File-friendly name contains ':': %s", n)
		}
	}
}

func TestDiscriminatingMapperSeparatesBasedirs(t *testing.T) {
	m := NewDiscriminatingMapper(NewGAVMapper())
	a := m.Names("/repo-one", coords())
	b := m.Names("/repo-two", coords())
	if a[0] == b[0] {
		t.Error("Different basedirs should produce different lock names")
	}
}

func TestHashingMapperSpread(t *testing.T) {
	flat := NewHashingMapper(NewGAVMapper(), 0).Names("/repo", coords())
	if strings.Contains(flat[0], "/") {
		t.Errorf("Spread 0 should be flat, got %s", flat[0])
	}

	spread := NewHashingMapper(NewGAVMapper(), 2).Names("/repo", coords())
	if strings.Count(spread[0], "/") != 2 {
		t.Errorf("Spread 2 should nest two levels, got %s", spread[0])
	}
}

func TestStaticMapper(t *testing.T) {
	m := NewStaticMapper("global")
	names := m.Names("/repo", coords())
	if len(names) != 1 || names[0] != "global" {
		t.Errorf("Expected single global name, got %v", names)
	}
	if got := m.Names("/repo", nil); len(got) != 0 {
		t.Errorf("Empty coordinate set should map to no names, got %v", got)
	}
}

func TestNoopMapper(t *testing.T) {
	if got := NewNoopMapper().Names("/repo", coords()); len(got) != 0 {
		t.Errorf("Noop mapper should yield no names, got %v", got)
	}
}

func TestByConfigName(t *testing.T) {
	for _, name := range []string{"", "gav", "file-gav", "discriminating", "hashing", "static", "noop"} {
		if _, err := ByConfigName(name, false); err != nil {
			t.Errorf("ByConfigName(%q) failed: %v", name, err)
		}
	}
	if _, err := ByConfigName("bogus", false); err == nil {
		t.Error("Unknown mapper name should fail")
	}
}
