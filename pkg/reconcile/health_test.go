package reconcile

import (
	"testing"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

var allStates = func() []hsmstate.State {
	var v []hsmstate.State
	for i := uint64(0); i < 0x80; i++ {
		v = append(v, hsmstate.Decode(i))
	}
	return v
}()

func TestNeedsArchive(t *testing.T) {
	tests := []struct {
		state    hsmstate.State
		expected bool
	}{
		{hsmstate.None, true},
		{hsmstate.Of(hsmstate.Exists), true},
		{hsmstate.Of(hsmstate.Released), true},
		{hsmstate.Of(hsmstate.Archived), false},
		{hsmstate.Of(hsmstate.Archived, hsmstate.Released), false},
		{hsmstate.Of(hsmstate.Archived, hsmstate.Dirty), false},
		{hsmstate.Of(hsmstate.Archived, hsmstate.Lost), false},
		{hsmstate.Of(hsmstate.Archived, hsmstate.Dirty, hsmstate.Lost), true},
	}
	for _, tc := range tests {
		if got := NeedsArchive(tc.state); got != tc.expected {
			t.Errorf("NeedsArchive(%s): expected %v, got %v", tc.state, tc.expected, got)
		}
	}
}

func TestHealthyWithoutArchived(t *testing.T) {
	for _, s := range allStates {
		if s.Has(hsmstate.Archived) {
			continue
		}
		for _, found := range []bool{true, false} {
			if !Healthy(s, "a/b.dat", "x/y.dat", found) {
				t.Errorf("%s should be healthy regardless of backend", s)
			}
		}
	}
}

func TestHealthyArchived(t *testing.T) {
	s := hsmstate.Of(hsmstate.Archived)
	tests := []struct {
		recorded string
		found    bool
		expected bool
	}{
		{"", true, true},
		{"a/b.dat", true, true},
		{"old/b.dat", true, false},
		{"", false, false},
		{"a/b.dat", false, false},
	}
	for _, tc := range tests {
		if got := Healthy(s, "a/b.dat", tc.recorded, tc.found); got != tc.expected {
			t.Errorf("Healthy(recorded=%q, found=%v): expected %v, got %v", tc.recorded, tc.found, tc.expected, got)
		}
	}
}

func TestGuardTarget(t *testing.T) {
	archived := hsmstate.Of(hsmstate.Archived)
	if got := GuardTarget(archived, "new/b.dat", "old/b.dat"); got != "old/b.dat" {
		t.Fatalf("expected recorded key, got %s", got)
	}
	if got := GuardTarget(archived, "new/b.dat", ""); got != "new/b.dat" {
		t.Fatalf("expected canonical fallback, got %s", got)
	}
	if got := GuardTarget(hsmstate.None, "new/b.dat", "old/b.dat"); got != "new/b.dat" {
		t.Fatalf("expected canonical key for fresh archive, got %s", got)
	}
}

func TestWouldOverwrite(t *testing.T) {
	for _, s := range allStates {
		for _, found := range []bool{true, false} {
			expected := NeedsArchive(s) && found
			got := WouldOverwrite(s, found)
			if got != expected {
				t.Errorf("WouldOverwrite(%s, %v): expected %v", s, found, expected)
			}
			if s.Has(hsmstate.Archived) && Healthy(s, "a", "", found) && !NeedsArchive(s) && got {
				t.Errorf("healthy archived %s would overwrite", s)
			}
		}
	}
}
