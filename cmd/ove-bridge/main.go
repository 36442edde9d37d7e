// ove-bridge - Site hardware bridge
//
// Holds the local device registry, dials the core and executes the
// commands it forwards against displays, projectors and nodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"observatory/config"
	"observatory/engine"
	"observatory/logging"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
		coreURL     string
		name        string
		logFile     string
		logDebug    string
		addDevs     []string
		setDevs     []string
		removeDevs  []string
	)

	flagSet := pflag.NewFlagSet("ove-bridge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", config.DefaultPath(), "path to configuration file")
	flagSet.BoolVar(&showVersion, "version", false, "show version and exit")
	flagSet.StringVar(&coreURL, "core-url", "", "core websocket URL, e.g. ws://core:8080/hardware (overrides config)")
	flagSet.StringVar(&name, "name", "", "bridge name (overrides config)")
	flagSet.StringVar(&logFile, "log", "", "path to log file")
	flagSet.StringVar(&logDebug, "log-debug", "", "write protocol traces to debug.log, optionally filtered (e.g. hardware)")
	flagSet.Lookup("log-debug").NoOptDefVal = "all"
	flagSet.StringArrayVar(&addDevs, "add-device", nil, "register a device, e.g. '{id: proj, protocol: pjlink, ip: 10.0.0.5}' (saved to config)")
	flagSet.StringArrayVar(&setDevs, "set-device", nil, "replace the device with the same id (saved to config)")
	flagSet.StringSliceVar(&removeDevs, "remove-device", nil, "remove devices by id (saved to config)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("ove-bridge %s\n", Version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if coreURL != "" {
		cfg.Bridge.CoreURL = coreURL
	}
	if name != "" {
		cfg.Bridge.Name = name
	}
	if secret := os.Getenv("OVE_BRIDGE_SECRET"); secret != "" {
		cfg.Bridge.Secret = secret
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var logger *logging.FileLogger
	if logFile != "" {
		logger, err = logging.NewFileLogger(logFile)
		if err != nil {
			return err
		}
		logger.SetMirror(os.Stdout)
	} else {
		logger = logging.NewConsoleLogger(os.Stdout)
	}
	defer logger.Close()

	if logDebug != "" {
		dl, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			dl.SetFilter(logDebug)
			logging.SetGlobalDebugLogger(dl)
			defer dl.Close()
			logger.Log("Debug logging enabled (filter: %s) - writing to debug.log", logDebug)
		}
	}

	b := engine.NewBridge(engine.Config{
		AppConfig:  cfg,
		ConfigPath: configPath,
		LogFunc:    logger.Log,
	})
	if err := applyDeviceFlags(b, addDevs, setDevs, removeDevs); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Log("Stopped")
	return nil
}

func applyDeviceFlags(b *engine.Bridge, add, set, remove []string) error {
	for _, spec := range add {
		dev, err := engine.ParseDeviceSpec(spec)
		if err != nil {
			return err
		}
		if err := b.AddDevice(dev); err != nil {
			return fmt.Errorf("adding device: %w", err)
		}
	}
	for _, spec := range set {
		dev, err := engine.ParseDeviceSpec(spec)
		if err != nil {
			return err
		}
		if err := b.UpdateDevice(dev.ID, dev); err != nil {
			return fmt.Errorf("updating device: %w", err)
		}
	}
	for _, id := range remove {
		if err := b.RemoveDevice(id); err != nil {
			return fmt.Errorf("removing device: %w", err)
		}
	}
	return nil
}
