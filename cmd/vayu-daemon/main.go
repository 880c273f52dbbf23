// Command vayu-daemon runs the HTTP load-generation daemon of spec.md §6: a
// single long-lived process exposing a control API over HTTP, one run at a
// time or many concurrently, each driven by its own event loop. Flag
// handling and signal-based shutdown follow the teacher's own hey.go.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/athrvk/vayu-sub005/internal/api"
	"github.com/athrvk/vayu-sub005/internal/config"
	"github.com/athrvk/vayu-sub005/internal/dnscache"
	"github.com/athrvk/vayu-sub005/internal/lockfile"
)

var (
	configPath = flag.String("config", "", "path to a YAML daemon config file")
	listenAddr = flag.String("addr", "", "address to listen on, overrides config and VAYU_LISTEN_PORT")
	dryRun     = flag.Bool("dry-run", false, "validate configuration and exit without binding a listener")
	version    = flag.Bool("version", false, "print version and exit")
)

const daemonVersion = "0.1.0"

// Exit codes per spec.md §6: 0 clean, 1 configuration error, 2 fatal
// internal error, 130 terminated by signal (128 + SIGINT).
const (
	exitOK        = 0
	exitConfig    = 1
	exitFatal     = 2
	exitSignalled = 130
)

var usage = `Usage: vayu-daemon [options...]

Options:
  -config    path to a YAML daemon config file (default none: built-in
             defaults only).
  -addr      address to listen on, e.g. ":9330". Overrides the config
             file's listen_port and the VAYU_LISTEN_PORT environment
             variable.
  -dry-run   load and validate configuration, then exit 0 without
             starting the server.
  -version   print version and exit.
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
	}
	flag.Parse()

	if *version {
		fmt.Println("vayu-daemon " + daemonVersion)
		os.Exit(exitOK)
	}

	os.Exit(run())
}

// run performs the whole daemon lifecycle and returns the process exit
// code directly, rather than an error, so each failure path can report the
// exit code spec.md §6 assigns it instead of collapsing everything to 1.
func run() int {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		return exitFatal
	}
	defer log.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfig
		}
	}

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	if *listenAddr != "" {
		addr = *listenAddr
	}

	if *dryRun {
		log.Info("config ok, dry run requested, exiting", zap.String("addr", addr))
		return exitOK
	}

	stateDir, err := lockfile.Dir(config.AppName())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	lock, err := lockfile.Acquire(filepath.Join(stateDir, "vayu.lock"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer lock.Release()

	reg := api.NewRegistry(api.RunnerOptions{
		NumWorkers:     cfg.NumWorkers,
		UserAgent:      cfg.DefaultUserAgent,
		DefaultTimeout: cfg.DefaultTimeout.Seconds(),
		DNSCache:       dnscache.New(nil),
	}, log, newRunID)

	handler := api.NewServer(reg, log)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("configured listen address unavailable, falling back to a free port",
			zap.String("addr", addr), zap.Error(err))
		ln, err = net.Listen("tcp", ":0")
		if err != nil {
			log.Error("binding a fallback port", zap.Error(err))
			return exitFatal
		}
	}

	discoveryPath := filepath.Join(stateDir, "vayu.discovery")
	if err := lockfile.WriteDiscovery(discoveryPath, ln.Addr().String()); err != nil {
		log.Warn("writing discovery file", zap.Error(err))
	} else {
		defer os.Remove(discoveryPath)
	}

	srv := &http.Server{Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	log.Info("vayu-daemon listening", zap.String("addr", ln.Addr().String()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serving", zap.Error(err))
			return exitFatal
		}
		return exitOK
	case <-sig:
		log.Info("shutdown requested, draining in-flight runs")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		srv.Shutdown(shutdownCtx)
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-sig:
		log.Warn("second signal received, forcing shutdown")
		srv.Close()
		<-shutdownDone
	}

	return exitSignalled
}

func newRunID() string {
	return uuid.NewString()
}
