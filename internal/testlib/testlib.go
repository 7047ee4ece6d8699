// Package testlib provides common test utilities.
package testlib

import (
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// MustTempDir creates a temporary directory, or dies trying.
func MustTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "testlib_")
	if err != nil {
		t.Fatal(err)
	}

	t.Logf("test directory: %q", dir)
	return dir
}

// RemoveIfOk removes the given directory, but only if we have not failed. We
// want to keep the failed directories for debugging.
func RemoveIfOk(t *testing.T, dir string) {
	// Safeguard, to make sure we only remove test directories.
	// This should help prevent accidental deletions.
	if !strings.Contains(dir, "testlib_") {
		panic("invalid/dangerous directory")
	}

	if !t.Failed() {
		os.RemoveAll(dir)
	}
}

// Rewrite a file with the given contents.
func Rewrite(t *testing.T, path, contents string) error {
	// Safeguard, to make sure we only mess with test files.
	if !strings.Contains(path, "testlib_") {
		panic("invalid/dangerous path")
	}

	err := os.WriteFile(path, []byte(contents), 0600)
	if err != nil {
		t.Errorf("failed to rewrite file: %v", err)
	}

	return err
}

// GetFreePort returns a free TCP port. This is hacky and not race-free, but
// it works well enough for testing purposes.
func GetFreePort() string {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(err)
	}
	defer l.Close()
	return l.Addr().String()
}

// WaitFor f to return true (returns true), or d to pass (returns false).
func WaitFor(f func() bool, d time.Duration) bool {
	start := time.Now()
	for time.Since(start) < d {
		if f() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

type sendRequest struct {
	Recipient map[string]string
	Message   string
}

// RecordingTransport never fails, and remembers every message sent to it.
// It plays the role chasquid's TestCourier plays for couriers.
type RecordingTransport struct {
	wg       sync.WaitGroup
	Requests []*sendRequest
	ReqFor   map[string]*sendRequest

	sync.Mutex
}

// NewRecordingTransport returns a new, empty RecordingTransport.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{
		ReqFor: map[string]*sendRequest{},
	}
}

// Send records the message (keyed by recipient["name"]) and always succeeds.
func (rt *RecordingTransport) Send(recipient map[string]string, message string) error {
	defer rt.wg.Done()
	sr := &sendRequest{Recipient: recipient, Message: message}
	rt.Lock()
	rt.Requests = append(rt.Requests, sr)
	rt.ReqFor[recipient["name"]] = sr
	rt.Unlock()
	return nil
}

// Terminate is a no-op.
func (rt *RecordingTransport) Terminate() {}

// Expect i sends to happen before Wait returns.
func (rt *RecordingTransport) Expect(i int) {
	rt.wg.Add(i)
}

// Wait until all expected sends have happened.
func (rt *RecordingTransport) Wait() {
	rt.wg.Wait()
}

// DumbTransport always succeeds, and remembers nothing.
type DumbTransport struct{}

// Send always succeeds.
func (DumbTransport) Send(recipient map[string]string, message string) error { return nil }

// Terminate is a no-op.
func (DumbTransport) Terminate() {}
