// Package transport defines the contract every delivery back-end
// implements, and a Registry that brings up whichever back-ends have
// their dependencies available.
package transport

import (
	"fmt"
	"sort"
	"sync"

	"blitiri.com.ar/go/log"
)

// Transport delivers a message to a single recipient. Send returns nil on
// success, or an error constructed via internal/notifyerr classifying the
// failure. Neither success nor failure is retried inside a Transport;
// that is the delivery loop's job.
type Transport interface {
	Send(recipient map[string]string, message string) error

	// Terminate releases any resources (background connections, open
	// files) held by the transport. Called once at daemon shutdown.
	Terminate()
}

// Opener constructs a Transport from a driver's config section. It
// returns an error if the driver's dependencies are unavailable or the
// config section is invalid.
type Opener func(config map[string]string) (Transport, error)

// drivers is populated by each provider package's init(), the same role
// pynotifyd/providers/all.py's provider_drivers map plays: a static,
// name-keyed table of constructors.
var drivers = map[string]Opener{}

// Register adds a driver under name. Called from the init() function of
// each transport subpackage. A driver registering under a name already
// taken is a programming error.
func Register(name string, open Opener) {
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("transport: driver %q registered twice", name))
	}
	drivers[name] = open
}

// Registry holds the transports actually brought up for one daemon run,
// keyed by the provider name used in the config file (which may differ
// from the driver name).
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
	skipped    map[string]string
}

// NewRegistry builds a Registry from provider configs, keyed by provider
// name, each naming a "driver" key selecting the Opener. A driver that
// fails to open (missing dependency, bad config) is recorded (see
// SkipReason) rather than aborting the whole startup - this is the "best-effort
// startup" contract: a daemon config that never references the
// unavailable driver still starts cleanly.
func NewRegistry(providers map[string]map[string]string) *Registry {
	r := &Registry{
		transports: map[string]Transport{},
		skipped:    map[string]string{},
	}

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := providers[name]
		driver := cfg["driver"]
		open, ok := drivers[driver]
		if !ok {
			r.skipped[name] = fmt.Sprintf("unknown driver %q", driver)
			log.Errorf("transport %q: %s", name, r.skipped[name])
			continue
		}

		t, err := open(cfg)
		if err != nil {
			r.skipped[name] = err.Error()
			log.Errorf("transport %q: failed to start: %v", name, err)
			continue
		}

		r.transports[name] = t
		log.Infof("transport %q: started (driver %s)", name, driver)
	}

	return r
}

// Get returns the transport registered under name, and whether it exists.
func (r *Registry) Get(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// SkipReason returns why a named provider was not started, if it wasn't.
func (r *Registry) SkipReason(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reason, ok := r.skipped[name]
	return reason, ok
}

// Validate checks that every provider name referenced by a retry policy
// resolves to a started transport. Called at startup, before the policy
// is accepted, so an unreachable driver fails fast with the recorded
// reason instead of surfacing as a runtime delivery error.
func (r *Registry) Validate(providerNames []string) error {
	for _, name := range providerNames {
		if _, ok := r.Get(name); !ok {
			reason, _ := r.SkipReason(name)
			if reason == "" {
				reason = "not configured"
			}
			return fmt.Errorf("retry policy references provider %q: %s", name, reason)
		}
	}
	return nil
}

// TerminateAll calls Terminate on every started transport.
func (r *Registry) TerminateAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.transports {
		log.Infof("transport %q: terminating", name)
		t.Terminate()
	}
}
