// Package queue implements the filesystem-backed persistent queue.
//
// The entire state of an entry lives in its filename:
//
//	<deadline_hex>.<step_hex>.<uid>       committed
//	<deadline_hex>.<step_hex>.<uid>.tmp   writer in progress, invisible to FindNext
//
// There is no sidecar file. The only state transition is a rename from one
// filename to another (or a rename from the ".tmp" name to the committed
// one, or an unlink). This mirrors pynotifyd's QueueEntry/PersistentQueue
// design one to one; see DESIGN.md.
package queue

import (
	"fmt"
	"strconv"
	"strings"
)

// tmpSuffix marks a file as a writer-in-progress.
const tmpSuffix = ".tmp"

// Entry is a single notification in flight.
type Entry struct {
	Deadline  int64  // unix seconds
	Step      int    // index into the retry policy
	UID       string // opaque, stable across renames
	Temporary bool   // true when the filename carries the .tmp suffix
}

// Filename returns the on-disk name for e.
func (e Entry) Filename() string {
	name := fmt.Sprintf("%x.%x.%s", e.Deadline, e.Step, e.UID)
	if e.Temporary {
		name += tmpSuffix
	}
	return name
}

func (e Entry) String() string {
	return e.Filename()
}

// WithTemp returns a copy of e with Temporary set to v.
func (e Entry) WithTemp(v bool) Entry {
	e.Temporary = v
	return e
}

// parseEntry parses a filename into an Entry. Filenames that don't match
// the "<hex>.<hex>.<uid>[.tmp]" shape are rejected; callers skip them
// (future-compatible, per spec §4.2's edge policy).
func parseEntry(name string) (Entry, bool) {
	temporary := false
	if strings.HasSuffix(name, tmpSuffix) {
		temporary = true
		name = strings.TrimSuffix(name, tmpSuffix)
	}

	parts := strings.SplitN(name, ".", 3)
	if len(parts) != 3 {
		return Entry{}, false
	}

	deadline, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil {
		return Entry{}, false
	}
	step, err := strconv.ParseInt(parts[1], 16, 64)
	if err != nil || step < 0 {
		return Entry{}, false
	}
	if parts[2] == "" {
		return Entry{}, false
	}

	return Entry{
		Deadline:  deadline,
		Step:      int(step),
		UID:       parts[2],
		Temporary: temporary,
	}, true
}

// Equal reports whether two entries share a uid (the spec's equality
// definition: "Entries are equal iff they share a uid").
func (e Entry) Equal(o Entry) bool {
	return e.UID == o.UID
}
