// Package mail implements a transport that submits the message as an
// email via a local MTA.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

func init() {
	transport.Register("mail", open)
}

const defaultSubject = "notifyd message"

type mailTransport struct {
	addr    string
	from    string
	subject string
	body    string
	forceTo string
}

func open(config map[string]string) (transport.Transport, error) {
	from, ok := config["from"]
	if !ok {
		return nil, fmt.Errorf("mail: from address required")
	}

	subject := config["subject"]
	if subject == "" {
		subject = defaultSubject
	}
	body := config["body"]
	if body == "" {
		body = "MESSAGE"
	}

	addr := config["relay"]
	if addr == "" {
		addr = "localhost:25"
	}

	return &mailTransport{
		addr:    addr,
		from:    from,
		subject: subject,
		body:    body,
		forceTo: config["forceto"],
	}, nil
}

func (m *mailTransport) Send(recipient map[string]string, message string) error {
	to := m.forceTo
	if to == "" {
		var ok bool
		to, ok = recipient["email"]
		if !ok {
			return notifyerr.Config(fmt.Errorf("mail: email address required"))
		}
	}

	body := strings.ReplaceAll(m.body, "MESSAGE", message)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.from, to, m.subject, body)

	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return notifyerr.Temp(fmt.Errorf("mail: submission failed: %v", err))
	}
	return nil
}

func (m *mailTransport) Terminate() {}
