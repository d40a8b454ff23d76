package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/adapter"
	"github.com/pithecene-io/de1gate/adapter/redis"
	"github.com/pithecene-io/de1gate/adapter/webhook"
	"github.com/pithecene-io/de1gate/cli/config"
	"github.com/pithecene-io/de1gate/controller"
	"github.com/pithecene-io/de1gate/gateway"
	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/ipc"
	"github.com/pithecene-io/de1gate/lode"
	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/metrics"
	"github.com/pithecene-io/de1gate/publisher"
	"github.com/pithecene-io/de1gate/resource"
	"github.com/pithecene-io/de1gate/supervisor"
	"github.com/pithecene-io/de1gate/types"
)

// WorkerCommand returns the hidden worker command that serve re-executes
// once per role. It expects its pipes on the inherited descriptors.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:      "worker",
		Usage:     "Run one worker (started by serve)",
		ArgsUsage: "<controller|inbound|outbound>",
		Hidden:    true,
		Flags:     configFlags(),
		Action:    workerAction,
	}
}

func workerAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("worker role required", exitConfigError)
	}
	role, err := types.ParseRole(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}

	level, _ := log.ParseLevel(cfg.Logging.Level)
	logger := log.NewLogger(log.Identity{Role: string(role), PID: os.Getpid()}, level)
	defer iox.DiscardErr(logger.Sync)
	collector := metrics.NewCollector(string(role))

	ctx, stop := workerContext(c.Context)
	defer stop()

	logger.Info("worker started", nil)
	if err := runWorker(ctx, role, cfg, logger, collector); err != nil {
		logger.Error("worker failed", map[string]any{"error": err.Error()})
		return cli.Exit("", 1)
	}
	logger.Info("worker exiting", collector.Snapshot().Fields())
	return nil
}

// workerContext is canceled by any terminating signal. Terminal signals
// reach the whole process group, so workers stop the same way the
// supervisor does. Rotation is the supervisor's business.
func workerContext(parent context.Context) (context.Context, context.CancelFunc) {
	signal.Ignore(syscall.SIGHUP)
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
}

func runWorker(ctx context.Context, role types.Role, cfg *config.Config, logger *log.Logger, collector *metrics.Collector) error {
	switch role {
	case types.RoleController:
		return runController(ctx, cfg,
			supervisor.WorkerFile(supervisor.ControllerRPCFD, "rpc"),
			supervisor.WorkerFile(supervisor.ControllerTelemetryFD, "telemetry"),
			logger, collector)
	case types.RoleInboundGateway:
		return runInbound(ctx, cfg, supervisor.WorkerFile(supervisor.InboundRPCFD, "rpc"), logger, collector)
	case types.RoleOutboundPublisher:
		return runOutbound(ctx, cfg, supervisor.WorkerFile(supervisor.OutboundTelemetryFD, "telemetry"), logger, collector)
	}
	return fmt.Errorf("unknown worker role %q", role)
}

// startMode validates the configured initial machine mode.
func startMode(s string) (controller.Mode, error) {
	switch m := controller.Mode(s); m {
	case "":
		return controller.ModeSleep, nil
	case controller.ModeSleep, controller.ModeIdle:
		return m, nil
	default:
		return "", fmt.Errorf("controller.start_mode must be sleep or idle, got %q", s)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func runController(ctx context.Context, cfg *config.Config, rpc, telemetry *os.File, logger *log.Logger, collector *metrics.Collector) error {
	defer iox.DiscardClose(telemetry)

	mode, err := startMode(cfg.Controller.StartMode)
	if err != nil {
		return err
	}
	machine := controller.NewMachine(controller.Options{
		Firmware:       cfg.Controller.Firmware,
		StartMode:      mode,
		DE1Connected:   boolOr(cfg.Controller.DE1Connected, true),
		ScaleConnected: boolOr(cfg.Controller.ScaleConnected, true),
		Emitter:        controller.NewPipeEmitter(telemetry),
		Logger:         logger,
		Metrics:        collector,
	})

	telemetryDone := make(chan struct{})
	telemetryCtx, cancelTelemetry := context.WithCancel(ctx)
	go func() {
		defer close(telemetryDone)
		machine.RunTelemetry(telemetryCtx, cfg.Controller.SampleInterval.Duration, cfg.Controller.StateInterval.Duration)
	}()
	defer func() {
		cancelTelemetry()
		<-telemetryDone
	}()

	return ipc.Serve(ctx, rpc, machine, func(err error) {
		collector.IncIPCDecodeErrors()
		logger.Warn("skipping undecodable request", map[string]any{"error": err.Error()})
	})
}

func runInbound(ctx context.Context, cfg *config.Config, rpc *os.File, logger *log.Logger, collector *metrics.Collector) error {
	client := ipc.NewClient(rpc, cfg.Gateway.RPCTimeout.Duration)
	defer iox.DiscardClose(client)

	registry := resource.NewRegistry()
	validator, err := resource.NewValidator(registry)
	if err != nil {
		return fmt.Errorf("failed to compile resource schemas: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Root:              cfg.Gateway.Root,
		MaxBodySize:       cfg.Gateway.MaxBodySize,
		RequestsPerMinute: int(cfg.Gateway.RequestsPerMinute),
		Burst:             cfg.Gateway.Burst,
		Heartbeat:         cfg.Gateway.Heartbeat.Duration,
	}, client, registry, validator, logger, collector)

	err = gw.ListenAndServe(ctx, cfg.Gateway.Addr())
	if discarded := client.Discarded(); discarded > 0 {
		logger.Info("late responses discarded", map[string]any{"count": discarded})
	}
	return err
}

func runOutbound(ctx context.Context, cfg *config.Config, telemetry *os.File, logger *log.Logger, collector *metrics.Collector) error {
	sinks, err := buildSinks(ctx, cfg.Publisher)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		logger.Info("no sinks configured, discarding telemetry", nil)
	}

	pub := publisher.New(publisher.Config{
		QueueSize:      cfg.Publisher.QueueSize,
		PublishTimeout: cfg.Publisher.PublishTimeout.Duration,
		FlushInterval:  cfg.Publisher.FlushInterval.Duration,
		Breaker: publisher.BreakerConfig{
			MaxFailures: cfg.Publisher.Breaker.MaxFailures,
			OpenTimeout: cfg.Publisher.Breaker.OpenTimeout.Duration,
			Interval:    cfg.Publisher.Breaker.Interval.Duration,
		},
	}, sinks, logger, collector)
	return pub.Run(ctx, telemetry)
}

func retries(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// buildSinks constructs every configured sink. On error the sinks built
// so far are closed.
func buildSinks(ctx context.Context, cfg config.PublisherConfig) ([]adapter.Adapter, error) {
	var sinks []adapter.Adapter
	fail := func(err error) ([]adapter.Adapter, error) {
		return nil, errors.Join(err, closeAdapters(sinks))
	}

	if r := cfg.Redis; r != nil {
		a, err := redis.New(redis.Config{
			URL:     r.URL,
			Channel: r.Channel,
			PerKind: r.PerKind,
			Timeout: r.Timeout.Duration,
			Retries: retries(r.Retries, redis.DefaultRetries),
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, a)
	}

	if w := cfg.Webhook; w != nil {
		a, err := webhook.New(webhook.Config{
			URL:     w.URL,
			Headers: w.Headers,
			Kinds:   w.Kinds,
			Timeout: w.Timeout.Duration,
			Retries: retries(w.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, a)
	}

	if ac := cfg.Archive; ac != nil {
		a, err := newArchive(ctx, *ac)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, a)
	}
	return sinks, nil
}

func closeAdapters(sinks []adapter.Adapter) error {
	closers := make([]io.Closer, len(sinks))
	for i, s := range sinks {
		closers[i] = s
	}
	return iox.CloseAll(closers...)
}

// DefaultArchivePath is the fs archive root when none is configured.
const DefaultArchivePath = "/tmp/de1gate/archive"

func newArchive(ctx context.Context, ac config.ArchiveConfig) (*lode.Archive, error) {
	lcfg := lode.Config{Dataset: ac.Dataset, BatchSize: ac.BatchSize}
	switch ac.Backend {
	case "", "fs":
		path := ac.Path
		if path == "" {
			path = DefaultArchivePath
		}
		return lode.NewArchive(lcfg, path)
	case "s3":
		return lode.NewS3Archive(ctx, lcfg, s3Config(ac))
	}
	return nil, fmt.Errorf("unknown archive backend %q", ac.Backend)
}

func s3Config(ac config.ArchiveConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(ac.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       ac.Region,
		Endpoint:     ac.Endpoint,
		UsePathStyle: ac.S3PathStyle,
	}
}
