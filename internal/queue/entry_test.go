package queue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFilenameRoundTrip(t *testing.T) {
	e := Entry{Deadline: 1700000000, Step: 3, UID: "abc-def"}

	got, ok := parseEntry(e.Filename())
	if !ok {
		t.Fatalf("parseEntry(%q) failed", e.Filename())
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("parseEntry round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFilenameTmpSuffix(t *testing.T) {
	e := Entry{Deadline: 1, Step: 0, UID: "x", Temporary: true}
	want := e.Filename()
	if want[len(want)-4:] != tmpSuffix {
		t.Fatalf("Filename() = %q, missing .tmp suffix", want)
	}

	got, ok := parseEntry(want)
	if !ok || !got.Temporary {
		t.Fatalf("parseEntry(%q) = %+v, %v; want Temporary=true", want, got, ok)
	}
}

func TestParseEntryRejectsGarbage(t *testing.T) {
	for _, name := range []string{
		"", ".", "..", ".lock", "notanentry",
		"zz.0.uid",    // bad hex deadline
		"1.zz.uid",    // bad hex step
		"1.2",         // too few parts
		"1.2.",        // empty uid
		"1.-1.uid",    // step can't parse as non-negative hex (minus sign rejected)
	} {
		if _, ok := parseEntry(name); ok {
			t.Errorf("parseEntry(%q) succeeded, want rejection", name)
		}
	}
}

func TestEntryEqualIgnoresDeadlineAndStep(t *testing.T) {
	a := Entry{Deadline: 1, Step: 0, UID: "same"}
	b := Entry{Deadline: 999, Step: 5, UID: "same"}
	if !a.Equal(b) {
		t.Errorf("entries sharing a uid should be equal regardless of deadline/step")
	}

	c := Entry{Deadline: 1, Step: 0, UID: "different"}
	if a.Equal(c) {
		t.Errorf("entries with different uids should not be equal")
	}
}
