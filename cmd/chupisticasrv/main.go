package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/devnation593/chupistica/pkg/gateway"
	"github.com/devnation593/chupistica/pkg/server"
	"github.com/devnation593/chupistica/pkg/utils"
)

func main() {
	var (
		dbPath       string
		datadir      string
		host         string
		port         int
		portFile     string
		seed         int64
		maxSessions  int
		queueSize    int
		idleTimeout  time.Duration
		graceTimeout time.Duration
		reapInterval time.Duration
		debugLevel   string
	)
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file (created if missing)")
	flag.StringVar(&datadir, "datadir", "", "If set, write logs under <datadir>/logs")
	flag.StringVar(&host, "host", "127.0.0.1", "Host to listen on")
	flag.IntVar(&port, "port", 0, "Port to listen on (0 for random free port)")
	flag.StringVar(&portFile, "portfile", "", "If set, write selected port to this file")
	flag.Int64Var(&seed, "seed", 0, "Deterministic RNG seed for decks (0 = random)")
	flag.IntVar(&maxSessions, "maxsessions", server.DefaultMaxSessions, "Maximum live sessions")
	flag.IntVar(&queueSize, "queuesize", server.DefaultQueueSize, "Per-session command queue size")
	flag.DurationVar(&idleTimeout, "idletimeout", server.DefaultIdleTimeout, "Reap live sessions idle longer than this")
	flag.DurationVar(&graceTimeout, "gracetimeout", server.DefaultGraceEnded, "Reap ended sessions after this grace period")
	flag.DurationVar(&reapInterval, "reapinterval", time.Minute, "Idle-session sweep interval")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	if dbPath == "" {
		tmp := os.TempDir()
		dbPath = filepath.Join(tmp, "chupistica.sqlite")
	}

	// Init DB
	db, err := server.NewDatabase(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Logging backend
	logCfg := logging.LogConfig{DebugLevel: debugLevel}
	if datadir != "" {
		if err := utils.EnsureDataDirExists(datadir); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		logCfg.LogFile = filepath.Join(datadir, "logs", "chupisticasrv.log")
		logCfg.MaxLogFiles = 5
	}
	logBackend, _ := logging.NewLogBackend(logCfg)
	log := logBackend.Logger("SRVR")

	if seed == 0 {
		// Allow env override for convenience
		if env := os.Getenv("CHUPISTICA_SEED"); env != "" {
			if v, err := strconv.ParseInt(env, 10, 64); err == nil {
				seed = v
			}
		}
	}

	registry := server.NewRegistry(server.RegistryConfig{
		MaxSessions: maxSessions,
		IdleTimeout: idleTimeout,
		GraceEnded:  graceTimeout,
		QueueSize:   queueSize,
		Seed:        seed,
		Saver:       server.NewSnapshotStore(db, logBackend),
	}, logBackend)
	registry.StartReaper(reapInterval)
	defer registry.Stop()

	dispatcher := server.NewDispatcher(registry, logBackend)
	gw := gateway.New(dispatcher, logBackend)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`+"\n", registry.Count())
	})

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}

	// Optionally write chosen port
	if portFile != "" {
		_, p, _ := net.SplitHostPort(lis.Addr().String())
		_ = os.WriteFile(portFile, []byte(p), 0600)
	}

	httpSrv := &http.Server{Handler: mux}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Infof("shutting down")
		httpSrv.Close()
	}()

	log.Infof("listening on %s", lis.Addr())
	if err := httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}
