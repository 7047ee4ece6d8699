package xmpp

import (
	"testing"

	"github.com/CygnusNetworks/gonotifyd/internal/set"
)

func resources(t *testing.T, pairs ...string) map[string]resourceState {
	t.Helper()
	out := map[string]resourceState{}
	for i := 0; i < len(pairs); i += 3 {
		full, setting, state := pairs[i], pairs[i+1], pairs[i+2]
		out[full] = resourceState{setting: xmppSetting(setting), state: state}
	}
	return out
}

func xmppSetting(s string) setting {
	return setting(s)
}

func TestSelectCandidatesSkipsDisabled(t *testing.T) {
	r := resources(t,
		"a@x/phone", "normal", "online",
		"a@x/desk", "disable", "online",
	)
	got := selectCandidates(r, set.NewString(), nil)
	if len(got) != 1 || got[0].resource.String() != "a@x/phone" {
		t.Errorf("selectCandidates = %+v, want only a@x/phone", got)
	}
}

func TestSelectCandidatesExcludesByResource(t *testing.T) {
	r := resources(t,
		"a@x/phone", "normal", "online",
		"a@x/desk", "normal", "online",
	)
	got := selectCandidates(r, set.NewString("phone"), nil)
	if len(got) != 1 || got[0].resource.String() != "a@x/desk" {
		t.Errorf("selectCandidates = %+v, want only a@x/desk", got)
	}
}

func TestSelectCandidatesFiltersByIncludeStates(t *testing.T) {
	r := resources(t,
		"a@x/phone", "normal", "away",
		"a@x/desk", "normal", "online",
	)
	got := selectCandidates(r, set.NewString(), set.NewString("online", "chat"))
	if len(got) != 1 || got[0].resource.String() != "a@x/desk" {
		t.Errorf("selectCandidates = %+v, want only a@x/desk", got)
	}
}

func TestSelectCandidatesMarksIgnoreAsPlaceholder(t *testing.T) {
	r := resources(t, "a@x/phone", "ignore", "online")
	got := selectCandidates(r, set.NewString(), nil)
	if len(got) != 1 || !got[0].ignore {
		t.Errorf("selectCandidates = %+v, want one ignored placeholder", got)
	}
}

func TestSplitCommaList(t *testing.T) {
	cases := map[string][]string{
		"":          nil,
		"a":         {"a"},
		"a,b":       {"a", "b"},
		"a,,b":      {"a", "b"},
		"a, b":      {"a", " b"},
		"a,b,":      {"a", "b"},
	}
	for in, want := range cases {
		got := splitCommaList(in)
		if len(got) != len(want) {
			t.Errorf("splitCommaList(%q) = %v, want %v", in, got, want)
			continue
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("splitCommaList(%q) = %v, want %v", in, got, want)
				break
			}
		}
	}
}
