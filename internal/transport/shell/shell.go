// Package shell implements a transport that hands the message to a
// configured shell command.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

func init() {
	transport.Register("shell", open)
}

// defaultTimeout bounds how long a single shell invocation may run; the
// original implementation had no timeout at all, but an unbounded
// transport send would stall the single delivery thread indefinitely.
const defaultTimeout = 60 * time.Second

type shellTransport struct {
	command        []string
	messageOnStdin bool
	timeout        time.Duration
}

func open(config map[string]string) (transport.Transport, error) {
	commandLine, ok := config["command"]
	if !ok {
		return nil, fmt.Errorf("shell: driver requires a command")
	}
	command := strings.Fields(commandLine)
	if len(command) == 0 {
		return nil, fmt.Errorf("shell: command is empty")
	}

	onStdin := false
	if v, ok := config["message_on_stdin"]; ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "no", "false", "0", "":
			onStdin = false
		default:
			onStdin = true
		}
	}

	return &shellTransport{command: command, messageOnStdin: onStdin, timeout: defaultTimeout}, nil
}

// interpolate performs %(key)s-style substitution matching the original
// Python provider: contact keys are prefixed with "contact:", and the
// message itself is available under "message".
func interpolate(part string, recipient map[string]string, message string) string {
	values := make(map[string]string, len(recipient)+1)
	for k, v := range recipient {
		values["contact:"+k] = v
	}
	values["message"] = message

	result := part
	for k, v := range values {
		result = strings.ReplaceAll(result, "%("+k+")s", v)
	}
	return result
}

func (s *shellTransport) Send(recipient map[string]string, message string) error {
	args := make([]string, len(s.command))
	for i, part := range s.command {
		args[i] = interpolate(part, recipient, message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if s.messageOnStdin {
		cmd.Stdin = bytes.NewReader([]byte(message))
	}

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return notifyerr.Temp(fmt.Errorf("shell command timed out"))
	}
	if err != nil {
		// Matching the original provider: a failure to even start the
		// command (missing binary, permission denied) is permanent, while
		// a nonzero exit from a command that did run is temporary - the
		// shell script may succeed on a later attempt.
		if _, ok := err.(*exec.ExitError); ok {
			return notifyerr.Temp(fmt.Errorf("shell command exited with an error: %v - %q", err, string(output)))
		}
		return notifyerr.Perm(fmt.Errorf("failed to run shell command: %v", err))
	}

	return nil
}

func (s *shellTransport) Terminate() {}
