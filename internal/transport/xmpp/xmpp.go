// Package xmpp implements the persistent XMPP transport: a single
// long-lived session used to deliver messages to recipients whose
// presence is observed first, with a background reconnect loop and a
// small set of user commands available via inbound chat message.
package xmpp

import (
	"context"
	"fmt"
	"time"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/ping"
	"mellium.im/xmpp/stanza"

	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/set"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

func init() {
	transport.Register("persistentjabber", open)
}

const (
	defaultPingTimeout      = 10 * time.Second
	defaultPingMaxAge       = 30 * time.Second
	defaultReconnectTimeout = 30 * time.Second
)

// Transport is the transport.Transport implementation; it delegates all
// state to the background client goroutine.
type Transport struct {
	client *client
}

func open(config map[string]string) (transport.Transport, error) {
	jidStr, ok := config["jid"]
	if !ok || jidStr == "" {
		return nil, fmt.Errorf("persistentjabber: jid is required")
	}
	password, ok := config["password"]
	if !ok {
		return nil, fmt.Errorf("persistentjabber: password is required")
	}

	self, err := parseNormalizedJID(jidStr)
	if err != nil {
		return nil, fmt.Errorf("persistentjabber: invalid jid: %w", err)
	}

	pingTimeout := defaultPingTimeout
	if v, ok := config["ping_timeout"]; ok {
		d, err := parseSeconds(v)
		if err != nil {
			return nil, fmt.Errorf("persistentjabber: invalid ping_timeout: %w", err)
		}
		pingTimeout = d
	}
	pingMaxAge := defaultPingMaxAge
	if v, ok := config["ping_max_age"]; ok {
		d, err := parseSeconds(v)
		if err != nil {
			return nil, fmt.Errorf("persistentjabber: invalid ping_max_age: %w", err)
		}
		pingMaxAge = d
	}
	reconnectTimeout := defaultReconnectTimeout
	if v, ok := config["reconnect_timeout"]; ok {
		d, err := parseSeconds(v)
		if err != nil {
			return nil, fmt.Errorf("persistentjabber: invalid reconnect_timeout: %w", err)
		}
		reconnectTimeout = d
	}

	c := newClient(self, password, pingMaxAge, pingTimeout, reconnectTimeout)
	c.start()

	return &Transport{client: c}, nil
}

func parseSeconds(v string) (time.Duration, error) {
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// candidate is one resource to actually send to, or a no-op placeholder
// for an "ignore"d resource.
type candidate struct {
	resource jid.JID
	ignore   bool
}

// Send implements the send path of spec §4.5: usability check, ping-check,
// candidate selection under the connection lock, then dispatch outside it.
// No roster lookup is made: a contact with no present resource fails with
// a temporary error, whether it is offline or not on the roster at all.
func (t *Transport) Send(recipient map[string]string, message string) error {
	jidStr, ok := recipient["jabber"]
	if !ok || jidStr == "" {
		return notifyerr.Config(fmt.Errorf("persistentjabber: contact has no jabber address"))
	}
	bare, err := jid.Parse(jidStr)
	if err != nil {
		return notifyerr.Config(fmt.Errorf("persistentjabber: invalid jabber address %q: %w", jidStr, err))
	}

	if !t.client.usable() {
		t.client.triggerReconnect()
		return notifyerr.Temp(fmt.Errorf("persistentjabber: connection not usable"))
	}

	session := t.client.snapshotSession()
	if session == nil {
		t.client.triggerReconnect()
		return notifyerr.Temp(fmt.Errorf("persistentjabber: connection not usable"))
	}

	healthy := t.client.pinger.healthy(context.Background(), func(ctx context.Context) error {
		return ping.Send(ctx, session, session.RemoteAddr())
	})
	if !healthy {
		t.client.triggerReconnect()
		return notifyerr.Temp(fmt.Errorf("persistentjabber: ping check failed"))
	}

	resources := t.client.presence.snapshot(bare.Bare().String())
	if len(resources) == 0 {
		return notifyerr.Temp(fmt.Errorf("persistentjabber: %s has no known resource (not on roster or offline)", bare))
	}

	exclude := set.NewString(splitCommaList(recipient["jabber_exclude_resources"])...)
	var include *set.String
	if v := recipient["jabber_include_states"]; v != "" {
		include = set.NewString(splitCommaList(v)...)
	}

	candidates := selectCandidates(resources, exclude, include)
	if len(candidates) == 0 {
		return notifyerr.Temp(fmt.Errorf("persistentjabber: no eligible resource for %s", bare))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, cand := range candidates {
		if cand.ignore {
			continue
		}
		msg := stanza.Message{To: cand.resource, Type: stanza.ChatMessage}
		if err := session.Encode(ctx, msg.Wrap(bodyElement(message))); err != nil {
			return notifyerr.Temp(fmt.Errorf("persistentjabber: send to %s: %w", cand.resource, err))
		}
	}
	return nil
}

func selectCandidates(resources map[string]resourceState, exclude *set.String, include *set.String) []candidate {
	candidates := make([]candidate, 0, len(resources))
	for full, rs := range resources {
		if rs.setting == settingDisable {
			continue
		}
		j, err := jid.Parse(full)
		if err != nil {
			continue
		}
		if exclude.Has(j.Resourcepart()) {
			continue
		}
		if include != nil && !include.Has(rs.state) {
			continue
		}
		candidates = append(candidates, candidate{resource: j, ignore: rs.setting == settingIgnore})
	}
	return candidates
}

func splitCommaList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Terminate shuts the background session goroutine down and waits for it
// to exit.
func (t *Transport) Terminate() {
	t.client.terminate()
}
