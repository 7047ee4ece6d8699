package xmpp

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"blitiri.com.ar/go/log"
)

// incomingPresence and incomingMessage mirror just the fields the daemon
// cares about; full stanza decoding (extensions, error payloads) is not
// needed here.
type incomingPresence struct {
	stanza.Presence
	Show string `xml:"show,omitempty"`
}

type incomingMessage struct {
	stanza.Message
	Body string `xml:"body"`
}

func (c *client) handlePresence(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var p incomingPresence
	if err := xml.NewTokenDecoder(t).DecodeElement(&p, start); err != nil {
		return err
	}
	c.presence.available(p.From, p.Show)
	return nil
}

func (c *client) handlePresenceUnavailable(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var p incomingPresence
	if err := xml.NewTokenDecoder(t).DecodeElement(&p, start); err != nil {
		return err
	}
	c.presence.unavailable(p.From)
	return nil
}

// handleMessage implements the inbound user-command grammar: a message
// from a JID already present in the presence table whose body is exactly
// one of the recognized commands. Anything else, or a message from a JID
// not currently present, is dropped silently.
func (c *client) handleMessage(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var m incomingMessage
	if err := xml.NewTokenDecoder(t).DecodeElement(&m, start); err != nil {
		return err
	}

	if _, known := c.presence.knownResource(m.From); !known {
		return nil
	}

	if m.Body == "help" {
		return c.reply(t, m.From, helpText)
	}

	setting, ok := parseCommand(m.Body)
	if !ok {
		return nil
	}
	if !c.presence.setSetting(m.From, setting) {
		return nil
	}
	return c.sendPresence(t, m.From, presenceForSetting(setting))
}

func (c *client) reply(t xmlstream.TokenReadEncoder, to jid.JID, body string) error {
	reply := incomingMessage{
		Message: stanza.Message{To: to, Type: stanza.NormalMessage},
		Body:    body,
	}
	if err := xml.NewEncoder(t).Encode(reply); err != nil {
		log.Errorf("xmpp: failed to reply to %s: %v", to, err)
		return err
	}
	return nil
}

func (c *client) sendPresence(t xmlstream.TokenReadEncoder, to jid.JID, show string) error {
	p := stanza.Presence{To: to, Type: stanza.AvailablePresence}
	if err := xmlstream.Copy(t, p.Wrap(showElement(show))); err != nil {
		log.Errorf("xmpp: failed to update presence for %s: %v", to, err)
		return err
	}
	return nil
}
