package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/systemd"

	"github.com/CygnusNetworks/gonotifyd/internal/config"
	"github.com/CygnusNetworks/gonotifyd/internal/expvarom"
	"github.com/CygnusNetworks/gonotifyd/internal/nettrace"
	"github.com/CygnusNetworks/gonotifyd/internal/queue"

	// To enable live profiling in the monitoring server.
	_ "net/http/pprof"
)

// Build information, overridden at build time using
// -ldflags="-X main.version=blah".
var (
	version      = ""
	sourceDateTs = ""
)

var (
	versionVar = expvar.NewString("notifyd/version")

	sourceDate      time.Time
	sourceDateVar   = expvar.NewString("notifyd/sourceDateStr")
	sourceDateTsVar = expvarom.NewInt("notifyd/sourceDateTimestamp",
		"timestamp when the binary was built, in seconds since epoch")
)

func init() {
	expvarom.NewFunc("notifyd/queue/enqueueCount",
		"entries accepted into the queue since startup",
		func() interface{} { return queue.EnqueueCount() })
	expvarom.NewFunc("notifyd/queue/advanceCount",
		"entries moved to a later retry step since startup",
		func() interface{} { return queue.AdvanceCount() })
	expvarom.NewFunc("notifyd/queue/completeCount",
		"entries removed from the queue (delivered or given up) since startup",
		func() interface{} { return queue.CompleteCount() })
}

func parseVersionInfo() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		panic("unable to read build info")
	}

	dirty := false
	gitRev := ""
	gitTime := ""
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.modified":
			if s.Value == "true" {
				dirty = true
			}
		case "vcs.time":
			gitTime = s.Value
		case "vcs.revision":
			gitRev = s.Value
		}
	}

	if sourceDateTs != "" {
		sdts, err := strconv.ParseInt(sourceDateTs, 10, 0)
		if err != nil {
			panic(err)
		}

		sourceDate = time.Unix(sdts, 0)
	} else {
		sourceDate, _ = time.Parse(time.RFC3339, gitTime)
	}
	sourceDateVar.Set(sourceDate.Format("2006-01-02 15:04:05 -0700"))
	sourceDateTsVar.Set(sourceDate.Unix())

	if version == "" {
		version = sourceDate.Format("20060102")

		if gitRev != "" {
			version += fmt.Sprintf("-%.9s", gitRev)
		}
		if dirty {
			version += "-dirty"
		}
	}
	versionVar.Set(version)
}

func launchMonitoringServer(conf *config.Config) {
	log.Infof("Monitoring HTTP server listening on %s", conf.MonitoringAddress())

	osHostname, _ := os.Hostname()

	indexData := struct {
		Version    string
		GoVersion  string
		SourceDate time.Time
		StartTime  time.Time
		QueueDir   string
		Hostname   string
	}{
		Version:    version,
		GoVersion:  runtime.Version(),
		SourceDate: sourceDate,
		StartTime:  time.Now(),
		QueueDir:   conf.General.QueueDir,
		Hostname:   osHostname,
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if err := monitoringHTMLIndex.Execute(w, indexData); err != nil {
			log.Infof("monitoring handler error: %v", err)
		}
	})

	addr := conf.MonitoringAddress()
	srv := &http.Server{Addr: addr}

	http.HandleFunc("/exit", exitHandler(srv))
	http.HandleFunc("/metrics", expvarom.MetricsHandler)
	http.HandleFunc("/debug/flags", debugFlagsHandler)
	http.HandleFunc("/debug/config", debugConfigHandler(conf))
	http.HandleFunc("/debug/traces", nettrace.RenderTraces)

	// A "systemd" address means the listening socket is handed to us by
	// systemd socket activation, under the "monitoring" name, the same
	// convention chasquid uses for its own listeners.
	if addr == "systemd" {
		ls, err := systemd.Listeners()
		if err != nil {
			log.Fatalf("Error getting systemd listeners: %v", err)
		}
		l, ok := ls["monitoring"]
		if !ok {
			log.Fatalf("No systemd socket named \"monitoring\" was passed in")
		}
		if err := srv.Serve(l); err != http.ErrServerClosed {
			log.Fatalf("Monitoring server failed: %v", err)
		}
		return
	}

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Monitoring server failed: %v", err)
	}
}

// Functions available inside the templates.
var tmplFuncs = template.FuncMap{
	"since":         time.Since,
	"roundDuration": roundDuration,
}

// Static index for the monitoring website.
var monitoringHTMLIndex = template.Must(
	template.New("index").Funcs(tmplFuncs).Parse(
		`<!DOCTYPE html>
<html>

<head>
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Hostname}}: notifyd monitoring</title>

<style type="text/css">
  body {
    font-family: sans-serif;
  }
  @media (prefers-color-scheme: dark) {
    body {
      background: #121212;
      color: #c9d1d9;
    }
    a { color: #44b4ec; }
  }
</style>
</head>

<body>
<h1>notifyd @{{.Hostname}}</h1>

<p>
notifyd {{.Version}}<br>
source date {{.SourceDate.Format "2006-01-02 15:04:05 -0700"}}<br>
built with {{.GoVersion}}<br>
</p>

<p>
started {{.StartTime.Format "Mon, 2006-01-02 15:04:05 -0700"}}<br>
up for {{.StartTime | since | roundDuration}}<br>
queue directory <i>{{.QueueDir}}</i><br>
</p>

<ul>
  <li>monitoring
    <ul>
      <li><a href="/debug/traces">traces</a>
      <li>exported variables:
          <a href="/debug/vars">expvar</a>
          <small><a href="https://golang.org/pkg/expvar/">(ref)</a></small>,
          <a href="/metrics">openmetrics</a>
          <small><a href="https://openmetrics.io/">(ref)</a></small>
    </ul>
  <li>execution
    <ul>
      <li><a href="/debug/flags">flags</a>
      <li><a href="/debug/config">config</a>
      <li><a href="/debug/pprof/cmdline">command line</a>
    </ul>
  <li><a href="/debug/pprof">pprof</a>
      <small><a href="https://golang.org/pkg/net/http/pprof/">(ref)</a></small>
    <ul>
    </ul>
</ul>
</body>

</html>
`))

func exitHandler(srv *http.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Use POST method for exiting", http.StatusMethodNotAllowed)
			return
		}

		log.Infof("Received /exit")
		http.Error(w, "OK exiting", http.StatusOK)

		// Launch srv.Shutdown asynchronously, and then exit.
		// The http documentation says to wait for Shutdown to return before
		// exiting, to gracefully close all ongoing requests.
		go func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Fatalf("Monitoring server shutdown failed: %v", err)
			}
			os.Exit(0)
		}()
	}
}

func debugFlagsHandler(w http.ResponseWriter, _ *http.Request) {
	visited := make(map[string]bool)

	// Print set flags first, then the rest.
	flag.Visit(func(f *flag.Flag) {
		fmt.Fprintf(w, "-%s=%s\n", f.Name, f.Value.String())
		visited[f.Name] = true
	})

	fmt.Fprintf(w, "\n")

	flag.VisitAll(func(f *flag.Flag) {
		if !visited[f.Name] {
			fmt.Fprintf(w, "-%s=%s\n", f.Name, f.Value.String())
		}
	})
}

// debugConfigHandler prints the loaded configuration back out as TOML-ish
// key/value lines; there is no protobuf reflection available to lean on
// here since the config is a plain struct of string maps.
func debugConfigHandler(conf *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "[general]\n")
		fmt.Fprintf(w, "queuedir = %q\n", conf.General.QueueDir)
		fmt.Fprintf(w, "retry = %q\n", conf.General.Retry) // []string renders as a bracketed, quoted list
		fmt.Fprintf(w, "notify = %q\n", conf.General.Notify)
		fmt.Fprintf(w, "monitoring_address = %q\n", conf.General.MonitoringAddress)

		for name, provider := range conf.Providers {
			fmt.Fprintf(w, "\n[providers.%s]\n", name)
			for k, v := range provider {
				if k == "password" {
					v = "(redacted)"
				}
				fmt.Fprintf(w, "%s = %q\n", k, v)
			}
		}

		for name := range conf.Contacts {
			fmt.Fprintf(w, "\n[contacts.%s]\n", name)
		}
	}
}

func roundDuration(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
