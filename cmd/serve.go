package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/boozedog/learnpath/internal/config"
	"github.com/boozedog/learnpath/internal/journal"
	"github.com/boozedog/learnpath/internal/manifest"
	"github.com/boozedog/learnpath/internal/monitor"
	"github.com/boozedog/learnpath/internal/progress"
	"github.com/boozedog/learnpath/internal/web"
	"github.com/boozedog/learnpath/internal/web/sse"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the progress server",
	Long:  `Starts the HTTP server with the progress API, the live progress event stream, the learning-path manifest and the static docs site. A memory monitor samples the event registry and cleans it up as it fills.`,
	RunE:  runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config, 3002)")
	rootCmd.AddCommand(serveCmd)
}

func registryConfig(c config.SSEConfig, threshold float64) sse.Config {
	return sse.Config{
		MaxConnections:   c.MaxConnections,
		MaxProgressTypes: c.MaxProgressTypes,
		MaxHistorySize:   c.MaxHistorySize,
		EventTTL:         c.EventTTL,
		StaleAfter:       c.StaleAfter,
		ClientBuffer:     c.ClientBuffer,
		CleanupThreshold: threshold,
	}
}

func monitorOptions(c config.MonitorConfig) monitor.Options {
	return monitor.Options{
		Interval:         c.Interval,
		AlertThreshold:   c.AlertThreshold,
		CleanupThreshold: c.CleanupThreshold,
		HistorySize:      c.HistorySize,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg = cfg.WithPort(servePort)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	progressDir, err := cfg.ProgressDir()
	if err != nil {
		return fmt.Errorf("get progress dir: %w", err)
	}
	journalDir, err := cfg.JournalDir()
	if err != nil {
		return fmt.Errorf("get journal dir: %w", err)
	}
	manifestPath, err := cfg.ManifestPath()
	if err != nil {
		return fmt.Errorf("get manifest path: %w", err)
	}

	registry := sse.NewRegistry(registryConfig(cfg.SSE, cfg.Monitor.CleanupThreshold))
	defer registry.Close()

	svc := progress.NewService(progress.NewStore(progressDir), registry, journal.NewLog(journalDir))

	holder := manifest.NewHolder(nil)
	if m, err := holder.Reload(manifestPath); err != nil {
		slog.Warn("learning paths unavailable", "path", manifestPath, "err", err)
	} else {
		slog.Info("learning paths loaded", "paths", len(m.Paths), "items", m.ItemCount())
	}

	mon := monitor.New(registry, monitorOptions(cfg.Monitor))
	unsubscribe := mon.Subscribe(monitor.LogNotifications(slog.Default()))
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	srv := web.NewServer(cfg, web.Deps{Progress: svc, Registry: registry, Manifest: holder})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	mon.Start()
	g.Go(func() error {
		<-ctx.Done()
		mon.Stop()
		return nil
	})

	if cfg.Manifest.Watch {
		w, err := manifest.NewWatcher(manifestPath, holder, func(m *manifest.Manifest) {
			broadcastManifest(registry, m)
		})
		if err != nil {
			slog.Warn("watch learning paths", "path", manifestPath, "err", err)
		} else {
			g.Go(func() error {
				<-ctx.Done()
				return w.Close()
			})
		}
	}

	err = g.Wait()

	report := mon.MemoryReport()
	slog.Info("final memory report",
		"clients", report.Stats.ClientCount,
		"progress_types", report.Stats.ProgressTypeCount,
		"events", report.Stats.TotalEventHistory,
		"estimated_bytes", report.Stats.EstimatedMemoryUsage,
		"trend", report.Trend.Trend,
	)
	return err
}

func broadcastManifest(registry *sse.Registry, m *manifest.Manifest) {
	payload, err := json.Marshal(m.Change())
	if err != nil {
		slog.Error("marshal manifest change", "err", err)
		return
	}
	if _, err := registry.Broadcast(manifest.EventType, payload); err != nil {
		slog.Warn("broadcast manifest change", "err", err)
	}
}
