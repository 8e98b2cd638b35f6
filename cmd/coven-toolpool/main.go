// ABOUTME: Entry point for the coven-toolpool connection pool daemon
// ABOUTME: Pools connections to tool servers and reports pool health

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-toolpool/internal/config"
	"github.com/2389/coven-toolpool/internal/metrics"
	"github.com/2389/coven-toolpool/internal/pool"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _              _                 _
  ___ _____   _____ _ __   | |_ ___   ___ | |_ __   ___   ___ | |
 / __/ _ \ \ / / _ \ '_ \  | __/ _ \ / _ \| | '_ \ / _ \ / _ \| |
| (_| (_) \ V /  __/ | | | | || (_) | (_) | | |_) | (_) | (_) | |
 \___\___/ \_/ \___|_| |_|  \__\___/ \___/|_| .__/ \___/ \___/|_|
                                            |_|
`

// shutdownGrace bounds how long Stop waits for in-use connections.
const shutdownGrace = 30 * time.Second

// getConfigPath returns the path to the toolpool config file.
// Priority: COVEN_TOOLPOOL_CONFIG env var > XDG_CONFIG_HOME/coven/toolpool.yaml > ~/.config/coven/toolpool.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_TOOLPOOL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "toolpool.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "toolpool.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-toolpool <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the pool daemon")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  status   Validate the config and catalog")
		fmt.Println("  targets  List the configured tool servers")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "status":
		err = runStatus()
	case "targets":
		err = runTargets()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	targets, err := config.LoadTargets(cfg.Targets.Path)
	if err != nil {
		return fmt.Errorf("loading target catalog: %w", err)
	}

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Catalog:  %s\n", cfg.Targets.Path)
	green.Print("    ▶ ")
	fmt.Printf("Targets:  %d\n", len(targets))
	green.Print("    ▶ ")
	fmt.Printf("Status:   every %s\n", cfg.Status.Interval)
	fmt.Println()

	logger.Info("starting coven-toolpool",
		"config", configPath,
		"catalog", cfg.Targets.Path,
		"targets", len(targets),
	)

	mgr := pool.NewManager(logger)
	for name, entry := range targets {
		poolCfg, err := cfg.ResolvePool(entry)
		if err != nil {
			return fmt.Errorf("resolving pool config for %s: %w", name, err)
		}
		if err := mgr.RegisterTarget(name, entry.Descriptor(), poolCfg); err != nil {
			return fmt.Errorf("registering target: %w", err)
		}
	}
	mgr.Start()

	// Create every pool up front so warm-up and health monitoring begin
	// now instead of on first acquire.
	for name := range targets {
		if _, err := mgr.GetPool(name); err != nil {
			return fmt.Errorf("creating pool for %s: %w", name, err)
		}
	}

	collector := metrics.NewCollector(mgr, logger)
	go statusLoop(ctx, collector, cfg.Status.Interval, logger)

	<-ctx.Done()
	logger.Info("shutting down", "grace", shutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return mgr.Stop(shutdownCtx)
}

// statusLoop logs a per-pool snapshot and the overall classification at a
// fixed interval.
func statusLoop(ctx context.Context, collector *metrics.Collector, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for target, snap := range collector.SnapshotAll() {
				logger.Info("pool status",
					"target", target,
					"status", string(metrics.Classify(snap)),
					"size", snap.CurrentSize,
					"in_use", snap.InUse,
					"hits", snap.Hits,
					"misses", snap.Misses,
					"fallbacks", snap.Fallbacks,
					"errors", snap.ConnectionErrors,
					"breaker", snap.BreakerState,
				)
			}
			logger.Info("toolpool status", "overall", string(collector.Status()))
		}
	}
}

// runStatus validates the config and catalog offline: every entry must
// parse, resolve to a valid pool config, and name a known transport kind.
func runStatus() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	targets, err := config.LoadTargets(cfg.Targets.Path)
	if err != nil {
		return fmt.Errorf("loading target catalog: %w", err)
	}

	mgr := pool.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for name, entry := range targets {
		poolCfg, err := cfg.ResolvePool(entry)
		if err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
		if err := mgr.RegisterTarget(name, entry.Descriptor(), poolCfg); err != nil {
			return err
		}
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ ")
	fmt.Printf("%s: valid, %d targets\n", configPath, len(targets))
	return nil
}

func runTargets() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	targets, err := config.LoadTargets(cfg.Targets.Path)
	if err != nil {
		return fmt.Errorf("loading target catalog: %w", err)
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, name := range names {
		entry := targets[name]
		cyan.Printf("%-20s", name)
		fmt.Printf(" %-6s", entry.Kind)
		switch entry.Kind {
		case "grpc":
			fmt.Printf(" %s", entry.Address)
		case "stdio":
			fmt.Printf(" %s", entry.Command)
			if len(entry.Args) > 0 {
				gray.Printf(" %s", strings.Join(entry.Args, " "))
			}
		}
		fmt.Println()
	}
	return nil
}

const exampleConfig = `targets:
  path: "%s"

pool:
  max_connections: 10
  max_idle: "5m"
  connect_timeout: "10s"
  acquire_timeout: "5s"
  health_check_interval: "30s"
  retry_attempts: 3
  retry_base_delay: "100ms"
  breaker_failure_threshold: 5
  breaker_recovery_timeout: "30s"

status:
  interval: "1m"

logging:
  level: "info"
  format: "text"
`

const exampleCatalog = `# Tool server catalog for coven-toolpool.
#
# [targets.example]
# kind = "grpc"
# address = "localhost:50061"
#
# [targets.example.pool]
# max_connections = 20

[targets.fake]
kind = "grpc"
address = "localhost:50061"
`

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-toolpool configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	configPath := getConfigPath()
	fmt.Printf("Config file path [%s]: ", configPath)
	if line, err := reader.ReadString('\n'); err == nil {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			configPath = trimmed
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", configPath)
	}

	catalogPath := filepath.Join(filepath.Dir(configPath), "targets.toml")
	fmt.Printf("Target catalog path [%s]: ", catalogPath)
	if line, err := reader.ReadString('\n'); err == nil {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			catalogPath = trimmed
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(fmt.Sprintf(exampleConfig, catalogPath)), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := os.Stat(catalogPath); os.IsNotExist(err) {
		if err := os.WriteFile(catalogPath, []byte(exampleCatalog), 0644); err != nil {
			return fmt.Errorf("writing target catalog: %w", err)
		}
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	green.Printf("✓ ")
	fmt.Printf("Wrote %s\n", catalogPath)
	fmt.Println()
	fmt.Println("Edit the catalog, then start the daemon with: coven-toolpool serve")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
