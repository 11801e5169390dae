package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/database"
	"github.com/progeek/gpsd-influxdb/internal/dispatcher"
	"github.com/progeek/gpsd-influxdb/internal/influx"
	"github.com/progeek/gpsd-influxdb/internal/logging"
	intOtel "github.com/progeek/gpsd-influxdb/internal/otel"
	"github.com/progeek/gpsd-influxdb/internal/recorder"
	"github.com/progeek/gpsd-influxdb/internal/storage"
	gormstorage "github.com/progeek/gpsd-influxdb/internal/storage/gorm"
	mqttstorage "github.com/progeek/gpsd-influxdb/internal/storage/mqtt"
	wsstorage "github.com/progeek/gpsd-influxdb/internal/storage/websocket"
	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// version info, BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"

	AppName = "gpsd_influxdb"
)

// per-sink queue for asynchronous sinks
const sinkBuffer = 64

func main() {
	flags := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	configDir := flags.String("config", ".", "directory containing "+config.FileName)
	flags.String("host", "127.0.0.1", "gpsd host")
	flags.Int("port", 2947, "gpsd port")
	flags.Duration("interval", time.Second, "poll interval of the record command")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [record|poll|device]\n\n", AppName)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	command := "record"
	if flags.NArg() > 0 {
		command = strings.ToLower(flags.Arg(0))
	}

	configErr := config.Load(*configDir)
	if err := config.BindFlags(flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "record":
		err = runRecord(ctx, configErr)
	case "poll":
		err = runPoll(ctx, os.Stdout)
	case "device":
		err = runDevice(ctx, os.Stdout)
	default:
		flags.Usage()
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runRecord polls gpsd until interrupted and fans each fix out to the
// enabled sinks.
func runRecord(ctx context.Context, configErr error) error {
	sessionStart := time.Now()
	level := config.GetString("logLevel")

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logFilePath := logging.LogFilePath(logsDir, AppName, sessionStart)
	if _, err := os.Stat(logFilePath); err == nil {
		_ = os.Rename(logFilePath, logFilePath+".old")
	}
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	opts := logging.Options{Level: level, Console: os.Stderr, File: logFile}

	var setupErrs []error
	if config.GetBool("graylog.enabled") {
		gw, err := logging.NewGraylogWriter(config.GetString("graylog.address"))
		if err != nil {
			setupErrs = append(setupErrs, err)
		} else {
			defer gw.Close()
			opts.Graylog = gw
		}
	}

	otelProvider, err := intOtel.New(ctx, intOtel.ConfigFrom(config.GetOTelConfig(), logFile))
	if err != nil {
		setupErrs = append(setupErrs, fmt.Errorf("initializing OTel: %w", err))
	} else {
		opts.Provider = otelProvider.LoggerProvider()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelProvider.Shutdown(sctx)
		}()
	}

	var svc *recorder.Service
	opts.Context = func() []slog.Attr {
		if svc == nil {
			return nil
		}
		return svc.LogAttrs()
	}

	slogManager := logging.NewSlogManager(AppName)
	slogManager.Setup(opts)
	logger := slogManager.Logger()
	defer func() { _ = slogManager.Flush(context.Background()) }()

	logger.Info("Starting", "version", Version, "build", BuildDate, "log", logFilePath)
	if configErr != nil {
		logger.Warn("Failed to load config, using defaults", "error", configErr)
	}
	for _, err := range setupErrs {
		logger.Error("Logging output unavailable", "error", err)
	}

	zlog := newZerolog(level, os.Stderr, logFile)

	dispatcherLogger := logging.NewDispatcherLogger(zlog.With().Str("component", "dispatcher").Logger())
	fanout, err := dispatcher.New(dispatcherLogger)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	gpsdCfg := config.GetGPSDConfig()
	svc, err = recorder.NewService(recorder.Dependencies{
		Client:    gpsd.NewClient(gpsd.WithLogger(logger.With("component", "gpsd"))),
		Publisher: fanout,
		Logger:    logger,
		Host:      gpsdCfg.Host,
		Port:      gpsdCfg.Port,
		Interval:  gpsdCfg.PollInterval,
	})
	if err != nil {
		return err
	}

	backends := initBackends(ctx, logger, zlog)
	defer func() {
		for _, b := range backends {
			if err := b.Close(); err != nil {
				logger.Warn("Closing sink failed", "sink", b.Name(), "error", err)
			}
		}
	}()
	for _, b := range backends {
		fanout.RegisterBackend(b, dispatcher.Buffered(sinkBuffer), dispatcher.Logged())
	}
	// close the dispatcher first so buffered fixes reach the sinks
	defer fanout.Close()

	if len(fanout.Sinks()) == 0 {
		logger.Warn("No sink enabled, fixes are only logged")
	}

	logger.Info("Recording", "host", gpsdCfg.Host, "port", gpsdCfg.Port,
		"interval", gpsdCfg.PollInterval, "sinks", fanout.Sinks())
	if err := svc.Run(ctx); err != nil {
		logger.Error("Recorder stopped", "error", err)
		return err
	}
	logger.Info("Shutting down")
	return nil
}

// initBackends creates and initializes every enabled sink. A sink that
// fails to initialize is skipped.
func initBackends(ctx context.Context, logger *slog.Logger, zlog zerolog.Logger) []storage.Backend {
	var candidates []storage.Backend

	if cfg := config.GetInfluxConfig(); cfg.Enabled {
		candidates = append(candidates, influx.NewManager(zlog.With().Str("component", "influx").Logger(), cfg))
	}
	if cfg := config.GetDBConfig(); cfg.Enabled {
		dbLog := zlog.With().Str("component", "database").Logger()
		candidates = append(candidates, gormstorage.New(database.NewManager(dbLog, cfg), cfg, dbLog))
	}
	if cfg := config.GetMQTTConfig(); cfg.Enabled {
		candidates = append(candidates, mqttstorage.New(cfg, zlog.With().Str("component", "mqtt").Logger()))
	}
	if cfg := config.GetWebsocketConfig(); cfg.Enabled {
		client := fmt.Sprintf("%s/%s", AppName, Version)
		candidates = append(candidates, wsstorage.New(cfg, client, logger.With("component", "websocket")))
	}

	var ready []storage.Backend
	for _, b := range candidates {
		if err := b.Init(ctx); err != nil {
			logger.Error("Sink disabled", "sink", b.Name(), "error", err)
			_ = b.Close()
			continue
		}
		logger.Info("Sink ready", "sink", b.Name())
		ready = append(ready, b)
	}
	return ready
}

func newZerolog(level string, console io.Writer, file io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}, file)
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// connect opens a one-shot session for the poll and device commands.
func connect(ctx context.Context) (*gpsd.Client, error) {
	level := logging.ParseLevel(config.GetString("logLevel"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.GetGPSDConfig()
	cctx, cancel := context.WithTimeout(ctx, recorder.DefaultPollTimeout)
	defer cancel()

	c := gpsd.NewClient(gpsd.WithLogger(logger))
	if err := c.Connect(cctx, cfg.Host, cfg.Port); err != nil {
		return nil, fmt.Errorf("connecting to gpsd at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return c, nil
}

func runPoll(ctx context.Context, w io.Writer) error {
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	pctx, cancel := context.WithTimeout(ctx, recorder.DefaultPollTimeout)
	defer cancel()
	s, err := c.Poll(pctx)
	if errors.Is(err, gpsd.ErrNotActive) {
		fmt.Fprintln(w, "No active GPS device")
		return nil
	}
	if err != nil {
		return err
	}
	printSnapshot(w, s)
	return nil
}

func runDevice(ctx context.Context, w io.Writer) error {
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	printDevice(w, c)
	return nil
}
