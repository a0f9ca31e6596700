package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/promptdeck/internal/api"
	"github.com/dgnsrekt/promptdeck/internal/bounds"
	"github.com/dgnsrekt/promptdeck/internal/browser"
	"github.com/dgnsrekt/promptdeck/internal/capture"
	"github.com/dgnsrekt/promptdeck/internal/cdp"
	"github.com/dgnsrekt/promptdeck/internal/config"
	"github.com/dgnsrekt/promptdeck/internal/controller"
	"github.com/dgnsrekt/promptdeck/internal/export"
	"github.com/dgnsrekt/promptdeck/internal/journal"
	"github.com/dgnsrekt/promptdeck/internal/netutil"
	"github.com/dgnsrekt/promptdeck/internal/partition"
	"github.com/dgnsrekt/promptdeck/internal/relay"
	"github.com/dgnsrekt/promptdeck/internal/session"
	"github.com/dgnsrekt/promptdeck/internal/types"
	"github.com/dgnsrekt/promptdeck/internal/view"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load deck controller config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("deck_controller config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"data_dir", cfg.DataDir,
		"export_dir", cfg.ExportDir,
		"deck_config", cfg.DeckConfigPath,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, netutil.FallbackAddrs(cfg.BindAddr, 3), cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress:   cfg.CDPAddress,
			CDPPort:      cfg.CDPPort,
			ProfileDir:   cfg.ProfileDir,
			CrashDumpDir: cfg.CrashDumpDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	conn := cdp.New(cfg.CDPURL())
	if err := conn.Connect(context.Background()); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	callTimeout := time.Duration(cfg.CDPTimeoutMS) * time.Millisecond
	factory := view.NewFactory(conn, callTimeout)

	parts, err := partition.NewStore(cfg.PartitionDir(), factory)
	if err != nil {
		slog.Error("failed to open partition store", "dir", cfg.PartitionDir(), "error", err)
		os.Exit(1)
	}

	// The capture store is load-bearing; the controller refuses to run
	// without durable capture storage.
	captureStore, err := capture.New(cfg.CaptureDBPath())
	if err != nil {
		slog.Error("failed to open capture store", "path", cfg.CaptureDBPath(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := captureStore.Close(); err != nil {
			slog.Debug("capture store close failed", "error", err)
		}
	}()

	jrnl := journal.New(cfg.JournalDir(), 256, cfg.JournalMaxMB)
	defer func() {
		if err := jrnl.Close(); err != nil {
			slog.Debug("capture journal close failed", "error", err)
		}
	}()

	broker := relay.NewBroker()
	pipeline := export.NewPipeline(captureStore, broker, cfg.ExportBatchSize)

	// The sink closure is wired before any session can exist, so svc is
	// always assigned by the time a capture event fires.
	var svc *controller.Service
	registry := session.NewRegistry(parts, session.NewViewOpener(factory), func(evt types.CaptureEvent) {
		svc.HandleCaptureEvent(evt)
	})

	sync := bounds.NewSynchronizer(bounds.FromRegistry(registry), bounds.DefaultFrame, bounds.DefaultSettle)
	sync.Start(context.Background())
	defer sync.Stop()

	svc = controller.NewService(registry, captureStore, pipeline, jrnl, broker, sync, cfg.ExportDir, cfg.NotifyEndpoint)

	openStartupDeck(svc, cfg.DeckConfigPath)

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}

	go func() {
		slog.Info("deck_controller listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("deck_controller server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("deck_controller shutdown failed", "error", err)
	}
	registry.Shutdown(ctx)
}

// openStartupDeck creates the sessions listed in the deck config. A missing
// file is fine; a malformed one is fatal so a typo does not silently start
// an empty deck.
func openStartupDeck(svc *controller.Service, path string) {
	deck, err := config.LoadDeck(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no deck config, starting with empty deck", "path", path)
			return
		}
		slog.Error("invalid deck config", "path", path, "error", err)
		os.Exit(1)
	}

	for _, entry := range deck.Sessions {
		sess, err := svc.CreateSession(context.Background(), string(types.KindProvider), entry.Provider, entry.Name, entry.URL)
		if err != nil {
			slog.Error("failed to open deck session", "provider", entry.Provider, "error", err)
			continue
		}
		slog.Info("deck session opened", "session_id", sess.ID, "provider", sess.Provider)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
