// Package expvarom wraps the standard expvar package to additionally
// expose registered variables in OpenMetrics text format, alongside the
// usual /debug/vars JSON.
package expvarom

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// metric is the common bookkeeping shared by Int and Map: a name, its
// help text, the expvar.Var it renders from, and (for maps) the label
// name given to each key.
type metric struct {
	name     string
	help     string
	keyLabel string
	v        expvar.Var
}

var (
	mu      sync.Mutex
	metrics []*metric
)

func register(name, help, keyLabel string, v expvar.Var) {
	mu.Lock()
	defer mu.Unlock()
	metrics = append(metrics, &metric{name: name, help: help, keyLabel: keyLabel, v: v})
}

// Int is an expvar.Int that also carries OpenMetrics help text.
type Int struct {
	*expvar.Int
}

// NewInt creates and publishes a new Int, like expvar.NewInt, additionally
// registering it (and help) for MetricsHandler.
func NewInt(name, help string) *Int {
	i := &Int{Int: expvar.NewInt(name)}
	register(name, help, "", i.Int)
	return i
}

// Map is an expvar.Map that also carries OpenMetrics help text and a
// label name for its keys (e.g. "result", "code").
type Map struct {
	*expvar.Map
	keyLabel string
}

// NewMap creates and publishes a new Map, like expvar.NewMap, additionally
// registering it for MetricsHandler. keyLabel names the OpenMetrics label
// under which each key in the map is exposed (e.g. "code" for an
// HTTP-status-keyed counter).
func NewMap(name, keyLabel, help string) *Map {
	m := &Map{Map: expvar.NewMap(name), keyLabel: keyLabel}
	register(name, help, keyLabel, m.Map)
	return m
}

// NewFunc publishes an expvar.Func-backed gauge computed on every read,
// for counters owned by another package (e.g. queue.EnqueueCount).
func NewFunc(name, help string, f func() interface{}) {
	register(name, help, "", expvar.Func(f))
}

// sanitize turns a chasquid/notifyd-style expvar name ("notifyd/foo/bar")
// into an OpenMetrics-safe metric name ("notifyd_foo_bar").
func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return r.Replace(name)
}

// MetricsHandler renders all expvarom-registered variables (and nothing
// else) in OpenMetrics text exposition format.
func MetricsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	defer mu.Unlock()

	w.Header().Set("Content-Type", "application/openmetrics-text; version=1.0.0; charset=utf-8")

	sorted := make([]*metric, len(metrics))
	copy(sorted, metrics)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	for _, m := range sorted {
		name := sanitize(m.name)
		fmt.Fprintf(w, "# HELP %s %s\n", name, m.help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)

		switch v := m.v.(type) {
		case *expvar.Int:
			fmt.Fprintf(w, "%s %s\n", name, v.String())
		case *expvar.Map:
			label := m.keyLabel
			if label == "" {
				label = "key"
			}
			v.Do(func(kv expvar.KeyValue) {
				fmt.Fprintf(w, "%s{%s=%q} %s\n", name, label, kv.Key, kv.Value.String())
			})
		default:
			fmt.Fprintf(w, "%s %s\n", name, v.String())
		}
	}
	fmt.Fprint(w, "# EOF\n")
}
