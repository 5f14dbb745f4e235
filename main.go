package main

import (
	"context"
	"flag"

	"go.uber.org/zap"

	"cat-shutter-pi/pkg/camera"
	"cat-shutter-pi/pkg/capture"
	"cat-shutter-pi/pkg/config"
	"cat-shutter-pi/pkg/controller"
	"cat-shutter-pi/pkg/network"
	"cat-shutter-pi/pkg/schedule"
	"cat-shutter-pi/pkg/trigger"
	"cat-shutter-pi/pkg/types"
	"cat-shutter-pi/pkg/utils"
)

var (
	configPath = flag.String("config", "", "path of the JSON config file")
	dev        = flag.Bool("dev", false, "bench mode: SIGUSR1 trigger, local backend, debug logs")
	logLevel   = flag.String("log-level", "", "debug, info, warn or error, overrides the config")
	backend    = flag.String("backend", "", "firebase, webdav, mqtt or local, overrides the config")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if *dev {
		cfg.LogLevel = "debug"
		cfg.Trigger.Input = config.InputSignal
		cfg.Upload.Backend = config.BackendLocal
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *backend != "" {
		cfg.Upload.Backend = *backend
	}
	if err = cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %s", err)
	}
	if err = utils.SetLevel(cfg.LogLevel); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	// init camera
	source, err := camera.Open(ctx, cfg.Camera.Source())
	if err != nil {
		logger.Fatalf("init camera err: %s", err)
	}
	defer source.Close()

	// init upload service
	uploader, closeUploader, err := cfg.Upload.New()
	if err != nil {
		logger.Fatalf("init %s upload err: %s", cfg.Upload.Backend, err)
	}
	defer closeUploader()
	probes := []types.Readiness{uploader}
	if cfg.Network.NTPServer != "" {
		probes = append(probes, network.NewNTPProbe(cfg.Network.NTPServer,
			utils.MsToDuration(cfg.Network.NTPTimeoutMs), utils.MsToDuration(cfg.Network.ProbeIntervalMs)))
	}

	debouncer := trigger.New(utils.MsToDuration(cfg.Trigger.DebounceMs), cfg.Trigger.ActiveLevel, nil)
	scheduler := schedule.New(schedule.Policy{
		FastInterval:  utils.MsToDuration(cfg.Calibration.FastIntervalMs),
		MaxFastFrames: cfg.Calibration.MaxFastFrames,
		SlowInterval:  utils.MsToDuration(cfg.Calibration.SlowIntervalMs),
	}, source, nil)
	opts := capture.DefaultOptions()
	opts.NamePrefix = cfg.Capture.NamePrefix
	machine := capture.New(debouncer, source, uploader, network.All(probes...), opts, nil)
	ctl := controller.New(debouncer, scheduler, machine, controller.Options{
		PollInterval:   utils.MsToDuration(cfg.Loop.PollIntervalMs),
		Cooldown:       utils.MsToDuration(cfg.Loop.CooldownMs),
		StatusInterval: utils.MsToDuration(cfg.Loop.StatusIntervalMs),
		DiskPath:       cfg.Loop.DiskPath,
	})

	// init input
	watcher := cfg.Trigger.Watcher()
	go func() {
		err := watcher.Watch(ctx, func(level int) {
			debouncer.OnRawEdge(level)
		})
		if err != nil {
			logger.Errorf("watch %s input err: %s", cfg.Trigger.Input, err)
			cancel()
		}
	}()

	logger.Infof("cat shutter running: %s input, %s camera, %s upload",
		cfg.Trigger.Input, cfg.Camera.Driver, cfg.Upload.Backend)
	_ = ctl.Run(ctx)
	logger.Info("cat shutter stopped")
}
