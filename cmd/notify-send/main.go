// notify-send is a thin command-line client that enqueues a notification
// for the notifyd daemon to deliver. It does not acquire the queue lock;
// it relies on the atomicity of rename for correctness, the same
// guarantee the daemon itself depends on.
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/CygnusNetworks/gonotifyd/internal/config"
	"github.com/CygnusNetworks/gonotifyd/internal/processlock"
	"github.com/CygnusNetworks/gonotifyd/internal/queue"
	"github.com/CygnusNetworks/gonotifyd/internal/retry"

	// Registered so retry.Parse can resolve provider names against the
	// configured drivers, same set the daemon itself links in.
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/mail"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/mock"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/shell"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/sms"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/xmpp"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

var configPath = flag.String("config", "/etc/notifyd/notifyd.conf",
	"path to notifyd's configuration file")

const usage = `Usage: notify-send [-config=<path>] <contact> <message>

Enqueues <message> for delivery to <contact> using notifyd's configured
retry policy, then signals the running daemon (if any) to pick it up
immediately.
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	contact, message := flag.Arg(0), flag.Arg(1)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify-send: loading config: %v\n", err)
		os.Exit(1)
	}

	registry := transport.NewRegistry(cfg.Providers)
	policy, err := retry.Parse(cfg.RetryTokens(), func(name string) bool {
		_, ok := registry.Get(name)
		return ok
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify-send: parsing retry policy: %v\n", err)
		os.Exit(1)
	}

	q, err := queue.New(cfg.General.QueueDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify-send: opening queue: %v\n", err)
		os.Exit(1)
	}

	if _, err := q.Enqueue(contact, message, policy); err != nil {
		fmt.Fprintf(os.Stderr, "notify-send: enqueue failed: %v\n", err)
		os.Exit(1)
	}

	wakeDaemon(q.LockPath())
}

// wakeDaemon best-effort signals the daemon holding the queue lock so it
// picks up the new entry without waiting for its next timeout or inotify
// event. A missing or stale lock is not an error: the daemon will still
// find the entry on its own.
func wakeDaemon(lockPath string) {
	pid := processlock.New(lockPath).Owner()
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGUSR1)
}
