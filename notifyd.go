// notifyd is a notification daemon: it watches a filesystem-backed queue
// and delivers each entry through a retry policy of pluggable transports
// (shell commands, email, SMS, XMPP) until it succeeds or the policy
// gives up.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/CygnusNetworks/gonotifyd/internal/config"
	"github.com/CygnusNetworks/gonotifyd/internal/delivery"
	"github.com/CygnusNetworks/gonotifyd/internal/processlock"
	"github.com/CygnusNetworks/gonotifyd/internal/queue"
	"github.com/CygnusNetworks/gonotifyd/internal/retry"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"

	// Transport drivers register themselves via init().
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/mail"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/mock"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/shell"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/sms"
	_ "github.com/CygnusNetworks/gonotifyd/internal/transport/xmpp"

	"github.com/CygnusNetworks/gonotifyd/internal/watcher"
)

// Command-line flags.
var (
	configPath = flag.String("config", "/etc/notifyd/notifyd.conf",
		"path to the configuration file")
	lockTimeout = flag.Duration("lock_timeout", 10*time.Second,
		"how long to wait for the queue lock before giving up")
	showVer = flag.Bool("version", false, "show version and exit")
)

func main() {
	flag.Parse()
	log.Init()

	parseVersionInfo()
	if *showVer {
		fmt.Printf("notifyd %s (source date: %s)\n", version, sourceDate)
		return
	}

	log.Infof("notifyd starting (version %s)", version)
	rand.Seed(time.Now().UnixNano())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	log.Infof("Configuration: queuedir=%q retry=%v notify=%q",
		cfg.General.QueueDir, cfg.General.Retry, cfg.General.Notify)

	if cfg.MonitoringAddress() != "" {
		go launchMonitoringServer(cfg)
	}

	q, err := queue.New(cfg.General.QueueDir)
	if err != nil {
		log.Fatalf("Error opening queue: %v", err)
	}

	lock := processlock.New(q.LockPath())
	if !lock.Acquire(*lockTimeout, 200*time.Millisecond) {
		owner := lock.Owner()
		log.Fatalf("Could not acquire queue lock (held by pid %d)", owner)
	}
	defer lock.Release(false)

	registry := transport.NewRegistry(cfg.Providers)

	var missing string
	policy, err := retry.Parse(cfg.RetryTokens(), func(name string) bool {
		_, ok := registry.Get(name)
		if !ok && missing == "" {
			missing = name
		}
		return ok
	})
	if err != nil {
		if missing != "" {
			err = registry.Validate([]string{missing})
		}
		log.Fatalf("Error parsing retry policy: %v", err)
	}

	w, err := newWatcher(cfg)
	if err != nil {
		log.Fatalf("Error starting directory watcher: %v", err)
	}
	defer w.Close()

	loop := delivery.New(q, policy, registry, w, cfg)
	go signalHandler(loop)

	if err := loop.Run(); err != nil {
		registry.TerminateAll()
		log.Fatalf("Delivery loop exited: %v", err)
	}

	registry.TerminateAll()
	log.Infof("notifyd exiting cleanly")
}

func newWatcher(cfg *config.Config) (watcher.Watcher, error) {
	switch cfg.General.Notify {
	case "signal":
		return watcher.NewSignalWatcher(0), nil
	case "inotify", "":
		w, err := watcher.NewInotifyWatcher(cfg.General.QueueDir, 0)
		if err != nil {
			log.Errorf("inotify watcher unavailable (%v), falling back to signal watcher", err)
			return watcher.NewSignalWatcher(0), nil
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown notify method %q", cfg.General.Notify)
	}
}

// signalHandler translates SIGTERM/SIGINT into a graceful Loop.Stop, and
// SIGHUP into a log reopen (for log rotation), mirroring the teacher's own
// signalHandler structure.
func signalHandler(loop *delivery.Loop) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	for sig := range signals {
		switch sig {
		case syscall.SIGHUP:
			if err := log.Default.Reopen(); err != nil {
				log.Errorf("Error reopening log: %v", err)
			}
		case syscall.SIGTERM, syscall.SIGINT:
			log.Infof("Received %v, shutting down", sig)
			loop.Stop()
			return
		default:
			log.Errorf("Unexpected signal %v", sig)
		}
	}
}
