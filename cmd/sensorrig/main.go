package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/videox"
	"github.com/cyclopcam/sensorrig/server/api"
	"github.com/cyclopcam/sensorrig/server/config"
	"github.com/cyclopcam/sensorrig/server/metrics"
	"github.com/cyclopcam/sensorrig/server/recordingdb"
	"github.com/cyclopcam/sensorrig/server/rig"
	"github.com/cyclopcam/sensorrig/server/simengine"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	parser := argparse.NewParser("sensorrig", "Attach cameras to a simulated vehicle, and record what they see")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON or YAML). Built-in defaults are used if omitted.", Default: ""})
	videoPath := parser.String("", "video", &argparse.Options{Help: "Output video file. Use 'none' to disable video.", Default: ""})
	duration := parser.String("", "duration", &argparse.Options{Help: "Stop after this long (eg 30s). Runs until interrupted if omitted.", Default: ""})
	httpListen := parser.String("", "http", &argparse.Options{Help: "Serve the HTTP API on this address (eg :8090)", Default: ""})
	recordingsFile := parser.String("", "recordings", &argparse.Options{Help: "sqlite index of finished recordings", Default: ""})
	fps := parser.Float("", "fps", &argparse.Options{Help: "Tick rate of the simulated engine", Default: 0.0})
	jitter := parser.String("", "jitter", &argparse.Options{Help: "Random delay added to each simulated delivery (eg 5ms)", Default: "0s"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *videoPath == "none" {
		cfg.Video.Path = ""
	} else if *videoPath != "" {
		cfg.Video.Path = *videoPath
	}
	if *httpListen != "" {
		cfg.HTTPListen = *httpListen
	}
	if *recordingsFile != "" {
		cfg.RecordingsDB = *recordingsFile
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	engineFPS := *fps
	if engineFPS <= 0 {
		engineFPS = cfg.Video.FPS
	}
	jitterDuration, err := time.ParseDuration(*jitter)
	if err != nil {
		logger.Errorf("Invalid jitter '%v': %v", *jitter, err)
		os.Exit(1)
	}
	var runFor time.Duration
	if *duration != "" {
		if runFor, err = time.ParseDuration(*duration); err != nil {
			logger.Errorf("Invalid duration '%v': %v", *duration, err)
			os.Exit(1)
		}
	}

	if err := run(logger, cfg, engineFPS, jitterDuration, runFor); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func loadConfig(filename string) (*config.Config, error) {
	if filename != "" {
		return config.LoadConfig(filename)
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	return cfg, nil
}

func run(logger logs.Log, cfg *config.Config, engineFPS float64, jitter, runFor time.Duration) error {
	if cfg.VideoEnabled() {
		version, err := videox.FFmpegVersion(cfg.Video.FFmpegPath)
		if err != nil {
			return fmt.Errorf("ffmpeg is not available, so video cannot be recorded (use --video none to disable video): %w", err)
		}
		logger.Infof("Using %v", version)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	var recordings *recordingdb.RecordingDB
	if cfg.RecordingsDB != "" {
		if recordings, err = recordingdb.Open(logger, cfg.RecordingsDB); err != nil {
			return err
		}
		defer recordings.Close()
	}

	engine := simengine.New(logger, simengine.Options{FPS: engineFPS, Jitter: jitter})
	defer engine.Close()

	r, err := rig.New(logger, engine, cfg, rig.Options{Metrics: m, Recordings: recordings})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	if err := r.Start(); err != nil {
		return err
	}
	logger.Infof("Rig %v is running, with %v sensors", r.SessionID(), len(r.Devices()))

	g, gctx := errgroup.WithContext(ctx)

	var httpServer *api.Server
	if cfg.HTTPListen != "" {
		httpServer = api.NewServer(logger, r, recordings, reg, cfg.SnapshotPerSec)
		g.Go(func() error {
			if err := httpServer.ListenHTTP(cfg.HTTPListen); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("Stopping rig")
		err := r.Close()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if herr := httpServer.Shutdown(shutdownCtx); herr != nil {
				logger.Warnf("HTTP shutdown: %v", herr)
			}
		}
		return err
	})

	// Not running under systemd is not an error
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warnf("Failed to notify systemd: %v", err)
	}

	return g.Wait()
}
