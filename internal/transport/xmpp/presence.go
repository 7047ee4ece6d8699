package xmpp

import (
	"sync"

	"mellium.im/xmpp/jid"
)

// setting is a per-resource user preference, changed via inbound commands.
type setting string

const (
	settingNormal  setting = "normal"
	settingIgnore  setting = "ignore"
	settingDisable setting = "disable"
)

type resourceState struct {
	setting setting
	state   string // "online", "away", "chat", "dnd", "xa", ...
}

// presenceTable is the two-level bare-JID -> resource-JID -> state map.
// Mutated exclusively under mu, which also stands in for "the connection
// lock" the spec describes: reconnects clear it wholesale under the same
// lock that Send snapshots it with.
type presenceTable struct {
	mu     sync.Mutex
	byBare map[string]map[string]resourceState
}

func newPresenceTable() *presenceTable {
	return &presenceTable{byBare: map[string]map[string]resourceState{}}
}

func (p *presenceTable) available(j jid.JID, show string) {
	if show == "" {
		show = "online"
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	bare := j.Bare().String()
	inner, ok := p.byBare[bare]
	if !ok {
		inner = map[string]resourceState{}
		p.byBare[bare] = inner
	}
	inner[j.String()] = resourceState{setting: settingNormal, state: show}
}

func (p *presenceTable) unavailable(j jid.JID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bare := j.Bare().String()
	inner, ok := p.byBare[bare]
	if !ok {
		return
	}
	delete(inner, j.String())
	if len(inner) == 0 {
		delete(p.byBare, bare)
	}
}

func (p *presenceTable) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byBare = map[string]map[string]resourceState{}
}

// snapshot returns a copy of the resource map for bare, or nil if the
// contact has no known presence.
func (p *presenceTable) snapshot(bare string) map[string]resourceState {
	p.mu.Lock()
	defer p.mu.Unlock()

	inner, ok := p.byBare[bare]
	if !ok {
		return nil
	}
	out := make(map[string]resourceState, len(inner))
	for k, v := range inner {
		out[k] = v
	}
	return out
}

// knownResource reports whether full is a resource currently present for
// its bare JID, and if so its current setting/state.
func (p *presenceTable) knownResource(full jid.JID) (resourceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inner, ok := p.byBare[full.Bare().String()]
	if !ok {
		return resourceState{}, false
	}
	rs, ok := inner[full.String()]
	return rs, ok
}

// setSetting updates the setting for a known resource. Returns false (no
// change made) if the resource is unknown or already at that setting.
func (p *presenceTable) setSetting(full jid.JID, s setting) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	bare := full.Bare().String()
	inner, ok := p.byBare[bare]
	if !ok {
		return false
	}
	rs, ok := inner[full.String()]
	if !ok || rs.setting == s {
		return false
	}
	rs.setting = s
	inner[full.String()] = rs
	return true
}
