// Package sms implements the SMS transport family: a thin length-limiting
// wrapper (Base) around a vendor-specific Sender.
package sms

import (
	"fmt"
	"strconv"

	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

// defaultMaxLength matches the spec's transport-defined default; the
// original provider used 140, but this deployment's default is 160.
const defaultMaxLength = 160

// Sender delivers an already-truncated message to a phone number. Vendor
// packages (sipgate, ...) implement this and register themselves through
// NewBase.
type Sender interface {
	SendSMS(phone, message string) error
}

// Base wraps a Sender with the phone-number lookup and length truncation
// every SMS provider needs, mirroring SMSProviderBase.
type Base struct {
	sender    Sender
	maxLength int
}

// NewBase returns a Base wrapping sender, with maxsmslength read out of
// config (defaulting to defaultMaxLength).
func NewBase(config map[string]string, sender Sender) (*Base, error) {
	maxLength := defaultMaxLength
	if v, ok := config["maxsmslength"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("sms: maxsmslength must be an integer: %v", err)
		}
		maxLength = n
	}
	return &Base{sender: sender, maxLength: maxLength}, nil
}

func (b *Base) Send(recipient map[string]string, message string) error {
	phone, ok := recipient["phone"]
	if !ok {
		return notifyerr.Config(fmt.Errorf("sms: missing phone on contact"))
	}

	if len(message) > b.maxLength {
		message = message[:b.maxLength]
	}

	if err := b.sender.SendSMS(phone, message); err != nil {
		return err
	}
	return nil
}

func (b *Base) Terminate() {}

var _ transport.Transport = (*Base)(nil)
