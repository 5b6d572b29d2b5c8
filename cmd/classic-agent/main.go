package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/api"
	"github.com/SimplyPrint/classic-agent/internal/config"
	"github.com/SimplyPrint/classic-agent/internal/core"
	"github.com/SimplyPrint/classic-agent/internal/logging"
	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/SimplyPrint/classic-agent/internal/settings"
	"golang.org/x/term"
)

func main() {
	// Define flags
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	configFlag := flag.String("config", os.Getenv("CLASSIC_AGENT_CONFIG"), "Path to a YAML config file")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Classic Agent - Local MIFARE Classic card service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  classic-agent [flags]\n")
		fmt.Fprintf(os.Stderr, "  classic-agent version\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  CLASSIC_AGENT_CONFIG   Config file (default: none, built-in defaults)\n")
		fmt.Fprintf(os.Stderr, "  CLASSIC_AGENT_PORT     Port to listen on (default: %d)\n", config.DefaultPort)
		fmt.Fprintf(os.Stderr, "  CLASSIC_AGENT_HOST     Host to bind to (default: %s)\n", config.DefaultHost)
		fmt.Fprintf(os.Stderr, "  CLASSIC_AGENT_KEYS     Extra keys, comma separated, e.g. A:A0A1A2A3A4A5\n")
	}

	flag.Parse()

	// Handle version flag
	if *versionFlag {
		printVersion()
		return
	}

	if args := flag.Args(); len(args) > 0 {
		if args[0] == "version" {
			printVersion()
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("classic-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

// newKeyRing builds the shared key ring from config plus keys learned in
// earlier runs, and persists every newly learned key.
func newKeyRing(cfg *config.Config) (*core.KeyRing, error) {
	base, err := cfg.KeyStore()
	if err != nil {
		return nil, err
	}
	ring := core.NewKeyRing(base, cfg.PreferredType())

	for _, lk := range settings.LearnedKeys() {
		value, err := mifare.ParseKeyValue(lk.Key)
		if err != nil {
			logging.Warn(logging.CatAuth, "Skipping invalid learned key", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		var types []mifare.KeyType
		for _, name := range lk.Types {
			if kt, err := mifare.ParseKeyType(name); err == nil {
				types = append(types, kt)
			}
		}
		ring.Restore(value, types...)
	}

	ring.OnLearn(func(value [mifare.KeySize]byte, types []mifare.KeyType) {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = t.String()
		}
		if _, err := settings.AddLearnedKey(settings.LearnedKey{
			Key:    fmt.Sprintf("%X", value[:]),
			Types:  names,
			Source: "api",
		}); err != nil {
			logging.Error(logging.CatAuth, "Failed to persist learned key", map[string]any{
				"error": err.Error(),
			})
		}
		api.Broadcast("key_learned", map[string]any{
			"types": names,
			"keys":  ring.Info(),
		})
	})
	return ring, nil
}

func run(cfg *config.Config) error {
	// Initialize logging system
	level, _ := logging.ParseLevel(cfg.Log.Level) // validated by config.Load
	logging.Init(cfg.Log.MaxEntries, level)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logging.Get().SetOutput(os.Stderr)
	}
	defer logging.RecoverAndLog("main", true)

	if _, err := settings.Load(); err != nil {
		logging.Warn(logging.CatSystem, "Failed to load settings, using defaults", map[string]any{
			"error": err.Error(),
		})
	}

	if logging.InitSentry(logging.SentryOptions{
		Version: api.Version,
		Enabled: settings.IsCrashReportingEnabled(),
		DSN:     cfg.Sentry.DSN,
	}) {
		defer logging.FlushSentry(2 * time.Second)
	}

	logging.Info(logging.CatSystem, "Classic Agent starting", map[string]any{
		"version": api.Version,
	})

	ring, err := newKeyRing(cfg)
	if err != nil {
		return err
	}
	info := ring.Info()
	logging.Info(logging.CatAuth, "Key ring ready", map[string]any{
		"configured": info.Configured,
		"learned":    info.Learned,
		"prefer":     info.Prefer,
	})

	api.SetCardService(core.NewService(core.DefaultContextFactory{},
		core.WithTransmitTimeout(cfg.Reader.TransmitTimeout),
		core.WithReaderKeySlot(byte(cfg.Reader.KeySlot)),
		core.WithKeyRing(ring),
	))

	addr := cfg.Address()
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("classic-agent %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	logging.Info(logging.CatSystem, "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
