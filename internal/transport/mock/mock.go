// Package mock implements a transport that does nothing and fails
// configurably, useful for exercising the delivery loop and the retry
// policy without touching any real back-end.
package mock

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

func init() {
	transport.Register("mock", open)
}

type mockTransport struct {
	duration time.Duration
	failtype string
}

func open(config map[string]string) (transport.Transport, error) {
	duration := 3 * time.Second
	if v, ok := config["duration"]; ok {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("mock: duration must be an integer: %v", err)
		}
		duration = time.Duration(seconds) * time.Second
	}

	failtype := config["failtype"]
	switch failtype {
	case "", "permanent", "temporary", "random", "success":
	default:
		return nil, fmt.Errorf("mock: failtype must be one of permanent, temporary, random or success")
	}

	return &mockTransport{duration: duration, failtype: failtype}, nil
}

func (m *mockTransport) Send(recipient map[string]string, message string) error {
	if m.failtype == "permanent" {
		return notifyerr.Perm(fmt.Errorf("mocking permanent error"))
	}

	time.Sleep(m.duration)

	switch m.failtype {
	case "temporary":
		return notifyerr.Temp(fmt.Errorf("mocking temporary error"))
	case "random":
		if rand.Intn(2) == 0 {
			return notifyerr.Temp(fmt.Errorf("mocking random error"))
		}
	}
	return nil
}

func (m *mockTransport) Terminate() {}
