// Package queue implements the filesystem-backed persistent queue: a
// directory of entries whose filenames are their entire state.
package queue

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CygnusNetworks/gonotifyd/internal/retry"
	"github.com/CygnusNetworks/gonotifyd/internal/safeio"
)

// Exported variables, wired into the monitoring server.
var (
	enqueueCount  uint64
	advanceCount  uint64
	completeCount uint64
)

// EnqueueCount returns the number of entries ever enqueued, for monitoring.
func EnqueueCount() uint64 { return atomic.LoadUint64(&enqueueCount) }

// AdvanceCount returns the number of times an entry was advanced to a new
// step, for monitoring.
func AdvanceCount() uint64 { return atomic.LoadUint64(&advanceCount) }

// CompleteCount returns the number of entries that left the queue (success
// or give-up), for monitoring.
func CompleteCount() uint64 { return atomic.LoadUint64(&completeCount) }

// counter is a per-process monotonic tick used, together with pid, wall
// time and random bits, to build collision-free uids.
var counter uint64

// Queue is a directory-scoped store of Entries. Filesystem operations need
// no in-process locking: rename is the only state transition, and it's
// atomic at the OS level.
type Queue struct {
	dir string
}

// New returns a Queue rooted at dir. dir must already exist.
func New(dir string) (*Queue, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("queue directory %q: %v", dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("queue directory %q is not a directory", dir)
	}
	return &Queue{dir: dir}, nil
}

// Dir returns the queue's directory.
func (q *Queue) Dir() string { return q.dir }

// newUID mints a uid unique within any one-second window of this process:
// pid + wall time + a monotonic counter + 32 random bits.
func newUID() string {
	var rnd [4]byte
	_, _ = rand.Read(rnd[:])

	n := atomic.AddUint64(&counter, 1)
	return fmt.Sprintf("%x-%x-%x-%x",
		os.Getpid(), time.Now().Unix(), n, binary.BigEndian.Uint32(rnd[:]))
}

// newEntry returns a fresh Entry for immediate delivery, at step 0.
func (q *Queue) newEntry() Entry {
	return Entry{Deadline: time.Now().Unix(), Step: 0, UID: newUID()}
}

// Enqueue commits a new entry with the given payload (contact name plus
// body), advancing past any leading wait tokens in the policy without
// actually sleeping for them (the loop honors deadlines on its own). This
// mirrors advance_waits being applied to a brand new entry before its
// first write.
func (q *Queue) Enqueue(contact, body string, policy retry.Policy) (Entry, error) {
	e := q.newEntry()
	e = advanceWaits(e, policy, false)

	if err := q.write(e, []byte(contact+"\n"+body)); err != nil {
		return Entry{}, err
	}
	atomic.AddUint64(&enqueueCount, 1)
	return e, nil
}

// advanceWaits walks e's step forward through the policy while it keeps
// landing on Wait tokens, accumulating their seconds onto the deadline
// (or skipping them entirely when fast is set). It stops at the first
// Provider or GiveUp step.
func advanceWaits(e Entry, policy retry.Policy, fast bool) Entry {
	for {
		step := policy.Resolve(e.Step)
		if step.Kind != retry.Wait {
			return e
		}
		if !fast {
			deadline := e.Deadline
			if now := time.Now().Unix(); now > deadline {
				deadline = now
			}
			e.Deadline = deadline + int64(step.WaitSeconds)
		}
		e.Step++
	}
}

// write stages the payload under e's ".tmp" name and commits it by
// renaming to e's final name.
func (q *Queue) write(e Entry, payload []byte) error {
	tmp := e.WithTemp(true)
	tmpPath := filepath.Join(q.dir, tmp.Filename())
	finalPath := filepath.Join(q.dir, e.Filename())
	return safeio.WriteFileAs(tmpPath, finalPath, payload, 0600)
}

// IterEntries returns every committed entry currently in the queue,
// ignoring .tmp files, the lock symlink, and anything else that doesn't
// parse as an entry filename.
func (q *Queue) IterEntries() ([]Entry, error) {
	dirents, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		e, ok := parseEntry(d.Name())
		if !ok || e.Temporary {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FindNext returns the entry with the earliest deadline, breaking ties by
// lexical filename order. ok is false when the queue is empty.
func (q *Queue) FindNext() (Entry, bool, error) {
	entries, err := q.IterEntries()
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Deadline != entries[j].Deadline {
			return entries[i].Deadline < entries[j].Deadline
		}
		return entries[i].Filename() < entries[j].Filename()
	})
	return entries[0], true, nil
}

// Advance computes the next state for e (step+1, then walk past any wait
// tokens per the policy) and commits it by renaming the file. fast skips
// the accumulated wait rather than honoring it, used after a permanent
// failure where waiting would not help. The returned entry's step may
// resolve to GiveUp; it is still committed to disk as-is, and it is the
// caller's responsibility to notice that on the next pick and call Done
// instead of dispatching again - mirroring entry_next/process_queue_step
// leaving GIVEUP detection to the loop, not to the rename itself.
func (q *Queue) Advance(e Entry, policy retry.Policy, fast bool) (Entry, error) {
	next := e
	next.Step = e.Step + 1
	next = advanceWaits(next, policy, fast)

	if err := q.rename(e, next); err != nil {
		return Entry{}, err
	}
	atomic.AddUint64(&advanceCount, 1)
	return next, nil
}

// Done removes a successfully delivered entry from the queue.
func (q *Queue) Done(e Entry) error {
	if err := q.remove(e); err != nil {
		return err
	}
	atomic.AddUint64(&completeCount, 1)
	return nil
}

func (q *Queue) rename(from, to Entry) error {
	oldPath := filepath.Join(q.dir, from.Filename())
	newPath := filepath.Join(q.dir, to.Filename())
	return os.Rename(oldPath, newPath)
}

func (q *Queue) remove(e Entry) error {
	return os.Remove(filepath.Join(q.dir, e.Filename()))
}

// GetContents reads an entry's payload: the first line is the contact
// name, the rest is the message body.
func (q *Queue) GetContents(e Entry) (contact, body string, err error) {
	data, err := os.ReadFile(filepath.Join(q.dir, e.Filename()))
	if err != nil {
		return "", "", err
	}
	s := string(data)
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return s, "", nil
	}
	return s[:idx], s[idx+1:], nil
}

// Clear removes every committed entry from the queue. It deliberately
// leaves .tmp files alone: they belong to writers that may still be
// mid-rename, and removing them out from under a concurrent enqueue client
// would corrupt that client's commit.
func (q *Queue) Clear() error {
	entries, err := q.IterEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := q.remove(e); err != nil {
			return err
		}
	}
	return nil
}

// LockPath returns the path of the queue's process lock symlink.
func (q *Queue) LockPath() string {
	return filepath.Join(q.dir, ".lock")
}
