package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ZerkerEOD/permfarm/internal/client"
	"github.com/ZerkerEOD/permfarm/internal/config"
	"github.com/ZerkerEOD/permfarm/internal/dispatch"
	"github.com/ZerkerEOD/permfarm/internal/jobs"
	"github.com/ZerkerEOD/permfarm/internal/metrics"
	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/internal/port"
	"github.com/ZerkerEOD/permfarm/internal/version"
	"github.com/ZerkerEOD/permfarm/pkg/console"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
)

// cliFlags holds the raw command-line values; only flags that were actually
// passed override the environment.
type cliFlags struct {
	envFile     string
	servers     string
	priority    float64
	jobsFile    string
	secret      string
	dialTimeout time.Duration
	queueDepth  int
	outputDir   string
	caFile      string
	debug       bool
	logLevel    string
	version     bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.envFile, "env-file", "", "Path to the .env file (default: $PERMFARM_ENV_FILE or ./.env)")
	flag.StringVar(&f.servers, "servers", "", "Comma-separated server addresses (host:port or ws(s):// URL)")
	flag.Float64Var(&f.priority, "priority", 1.0, "Client priority reported to the servers")
	flag.StringVar(&f.jobsFile, "jobs", "", "Path to the job manifest (default: permuters.yaml)")
	flag.StringVar(&f.secret, "secret", "", "Shared 32-byte key as 64 hex characters for encrypted TCP framing")
	flag.DurationVar(&f.dialTimeout, "dial-timeout", 30*time.Second, "Timeout for connecting to each server")
	flag.IntVar(&f.queueDepth, "queue-depth", 0, "Task queue depth (default: number of logical cores)")
	flag.StringVar(&f.outputDir, "output-dir", "", "Directory for improved sources (optional)")
	flag.StringVar(&f.caFile, "ca-file", "", "PEM CA certificate trusted for wss:// servers (default: system roots)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&f.logLevel, "log-level", "", "Minimum log level: DEBUG, INFO, WARNING or ERROR")
	flag.BoolVar(&f.version, "version", false, "Print the version and exit")
	flag.Parse()
	return f
}

// overrides converts the flags that were passed into config keys.
func (f cliFlags) overrides() map[string]string {
	values := map[string]string{
		"servers":      f.servers,
		"priority":     strconv.FormatFloat(f.priority, 'g', -1, 64),
		"jobs":         f.jobsFile,
		"secret":       f.secret,
		"dial-timeout": f.dialTimeout.String(),
		"queue-depth":  strconv.Itoa(f.queueDepth),
		"output-dir":   f.outputDir,
		"ca-file":      f.caFile,
		"debug":        strconv.FormatBool(f.debug),
		"log-level":    f.logLevel,
	}
	keys := map[string]string{
		"servers":      config.KeyServers,
		"priority":     config.KeyPriority,
		"jobs":         config.KeyJobs,
		"secret":       config.KeySecret,
		"dial-timeout": config.KeyDialTimeout,
		"queue-depth":  config.KeyQueueDepth,
		"output-dir":   config.KeyOutputDir,
		"ca-file":      config.KeyCAFile,
		"debug":        config.KeyDebug,
		"log-level":    config.KeyLogLevel,
	}

	out := make(map[string]string)
	for name, key := range keys {
		if isFlagPassed(name) {
			out[key] = values[name]
		}
	}
	return out
}

// isFlagPassed checks if a specific flag was passed on the command line
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags FIRST so -debug applies to config loading
	flags := parseFlags()
	if flags.version {
		fmt.Println(version.String())
		return 0
	}
	if flags.debug {
		os.Setenv("DEBUG", "true")
	}
	debug.Reinitialize()

	envFile := config.ResolveEnvFile(flags.envFile)
	cfg, err := config.Load(envFile, flags.overrides())
	if err != nil {
		console.Error("Invalid configuration: %v", err)
		return 2
	}
	cfg.ApplyLogging()
	debug.Info("permclient %s starting with %d servers", version.GetVersion(), len(cfg.Servers))

	perms, err := jobs.Load(cfg.JobsFile)
	if err != nil {
		console.Error("Failed to load jobs: %v", err)
		return 1
	}
	console.Info("Loaded %d jobs from %s", len(perms), cfg.JobsFile)

	secretKey, err := cfg.SecretKey()
	if err != nil {
		console.Error("%v", err)
		return 2
	}

	tlsConfig, err := port.LoadClientTLSConfig(cfg.CAFile)
	if err != nil {
		console.Error("%v", err)
		return 2
	}

	collector, err := metrics.New(metrics.Config{})
	if err != nil {
		debug.Error("Failed to create metrics collector: %v", err)
		return 1
	}
	console.Status("Local host: %s", collector.Collect())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second signal terminates immediately
		<-ctx.Done()
		stop()
	}()

	depth := metrics.DefaultQueueDepth(cfg.QueueDepth)
	tasks := make(chan permuter.Task, depth)
	feedback := make(chan permuter.Feedback, depth)
	debug.Info("Task queue depth: %d", depth)

	dialOpts := port.DialOptions{
		Timeout:   cfg.DialTimeout,
		SecretKey: secretKey,
		TLSConfig: tlsConfig,
	}
	handles := startSessions(ctx, cfg, dialOpts, perms, tasks, feedback)
	if len(handles) == 0 {
		console.Error("Could not start a session with any server")
		return 1
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go collector.Watch(watchCtx, func(m *metrics.HostMetrics) {
		debug.Debug("Host metrics: %s", m)
	})

	d := dispatch.New(perms, tasks, feedback, dispatch.Options{
		OutputDir: cfg.OutputDir,
		FirstSeed: time.Now().UnixNano(),
	})
	summary := d.Run(ctx, len(handles))

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *client.Handle) {
			defer wg.Done()
			h.Wait()
		}(h)
	}
	wg.Wait()

	printSummary(summary)
	return 0
}

// startSessions dials every configured server and starts a client session on
// each one that accepts. Failures are reported and skipped.
func startSessions(
	ctx context.Context,
	cfg *config.Config,
	dialOpts port.DialOptions,
	perms []*permuter.Permuter,
	tasks chan permuter.Task,
	feedback chan permuter.Feedback,
) []*client.Handle {
	var handles []*client.Handle
	for _, address := range cfg.Servers {
		console.Status("Connecting to %s...", address)
		p, err := port.Dial(ctx, address, dialOpts)
		if err != nil {
			console.Error("Failed to connect: %v", err)
			continue
		}

		h, err := client.StartClient(p, perms, tasks, feedback, cfg.Priority)
		if err != nil {
			// StartClient leaves the port with us when it fails
			p.Close()
			var rejected *client.RejectedError
			if !errors.As(err, &rejected) {
				console.Error("Failed to start session with %s: %v", address, err)
			}
			continue
		}
		debug.Info("Session %s started with %s (%d servers, %.1f cores)",
			h.SessionID(), address, h.Fleet().Servers, h.Fleet().Cores)
		handles = append(handles, h)
	}
	return handles
}

func printSummary(s *dispatch.Summary) {
	console.Info("Evaluated %d candidates in %s (%s), %d failed",
		s.Evaluations, console.FormatDuration(s.Elapsed),
		console.FormatRate(int64(s.Evaluations), s.Elapsed), s.Failures)

	for _, job := range s.Jobs {
		switch {
		case job.Improved && job.BestScore == 0:
			console.Success("%s: matched (base score %d)", job.FnName, job.BaseScore)
		case job.Improved:
			console.Success("%s: best score %d (base %d)", job.FnName, job.BestScore, job.BaseScore)
		default:
			console.Info("%s: no improvement over base score %d", job.FnName, job.BaseScore)
		}
	}

	if s.Profiler.Total() > 0 {
		debug.Info("Server-side time per stage:\n%s", s.Profiler)
	}
	for _, reason := range s.Reasons {
		if reason != "" {
			debug.Info("Session end reason: %s", reason)
		}
	}
}
