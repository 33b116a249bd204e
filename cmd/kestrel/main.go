// Kestrel mission control: accepts mission playbooks over HTTP, flies
// them against a simulated or real flight backend, and streams
// telemetry to ground stations over WebSocket.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kestrel-uas/kestrel/internal/engine"
	"github.com/kestrel-uas/kestrel/internal/flight"
	"github.com/kestrel-uas/kestrel/internal/server"
	"github.com/kestrel-uas/kestrel/pkg/util"
)

// appConfig is the on-disk configuration. Durations are spelled out in
// explicit units because the YAML layer has no duration syntax.
type appConfig struct {
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
	Server struct {
		ListenAddr     string `yaml:"listen_addr"`
		TickIntervalMS int    `yaml:"tick_interval_ms"`
		PlaybookDir    string `yaml:"playbook_dir"`
	} `yaml:"server"`
	Engine struct {
		ArrivalThresholdM float64 `yaml:"arrival_threshold_m"`
		ClimbRateMPS      float64 `yaml:"climb_rate_mps"`
		DescentRateMPS    float64 `yaml:"descent_rate_mps"`
		ActionDurationS   float64 `yaml:"action_duration_sec"`
		CommandTimeoutS   float64 `yaml:"command_timeout_sec"`
	} `yaml:"engine"`
	Sim struct {
		LatencyMS       int     `yaml:"latency_ms"`
		ReportBattery   bool    `yaml:"report_battery"`
		DrainPerReadPct float64 `yaml:"drain_per_read_pct"`
	} `yaml:"sim"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := util.LoadConfig[appConfig](*configPath)
	if err != nil {
		log.WithError(err).Fatal("could not load configuration")
	}

	setupLogging(cfg)

	srv := server.New(server.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		TickInterval: time.Duration(cfg.Server.TickIntervalMS) * time.Millisecond,
		PlaybookDir:  cfg.Server.PlaybookDir,
		Engine: engine.Config{
			ArrivalThresholdM: cfg.Engine.ArrivalThresholdM,
			ClimbRateMPS:      cfg.Engine.ClimbRateMPS,
			DescentRateMPS:    cfg.Engine.DescentRateMPS,
			ActionDurationS:   cfg.Engine.ActionDurationS,
			CommandTimeout:    time.Duration(cfg.Engine.CommandTimeoutS * float64(time.Second)),
		},
	}, func() flight.Backend {
		return flight.NewSim(flight.SimConfig{
			Latency:         time.Duration(cfg.Sim.LatencyMS) * time.Millisecond,
			ReportBattery:   cfg.Sim.ReportBattery,
			DrainPerReadPct: cfg.Sim.DrainPerReadPct,
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func setupLogging(cfg *appConfig) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}
}
