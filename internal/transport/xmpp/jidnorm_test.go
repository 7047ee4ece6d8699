package xmpp

import "testing"

func TestParseNormalizedJIDConvertsUnicodeDomain(t *testing.T) {
	j, err := parseNormalizedJID("user@münchen.example/res")
	if err != nil {
		t.Fatalf("parseNormalizedJID: %v", err)
	}
	if got := j.Domain().String(); got != "xn--mnchen-3ya.example" {
		t.Errorf("domain = %q, want xn--mnchen-3ya.example", got)
	}
}

func TestParseNormalizedJIDPlainASCII(t *testing.T) {
	j, err := parseNormalizedJID("notifyd@example.org/daemon")
	if err != nil {
		t.Fatalf("parseNormalizedJID: %v", err)
	}
	if got := j.String(); got != "notifyd@example.org/daemon" {
		t.Errorf("jid = %q, want unchanged", got)
	}
}
