// ove-core - Hardware control core
//
// Accepts bridge connections over websocket, exposes the REST API and
// republishes command results and bridge presence to MQTT, Valkey and Kafka.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

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
		namespace   string
		httpHost    string
		httpPort    int
		addBridge   string
		logFile     string
		logDebug    string
	)

	flagSet := pflag.NewFlagSet("ove-core", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", config.DefaultPath(), "path to configuration file")
	flagSet.BoolVar(&showVersion, "version", false, "show version and exit")
	flagSet.StringVar(&namespace, "namespace", "", "set namespace (saved to config)")
	flagSet.StringVar(&httpHost, "host", "", "HTTP bind address (overrides config)")
	flagSet.IntVarP(&httpPort, "port", "p", 0, "HTTP listen port (overrides config)")
	flagSet.StringVar(&addBridge, "add-bridge", "", "accept a bridge, as name:secret (saved to config)")
	flagSet.StringVar(&logFile, "log", "", "path to log file")
	flagSet.StringVar(&logDebug, "log-debug", "", "write protocol traces to debug.log, optionally filtered (e.g. mqtt,gateway)")
	flagSet.Lookup("log-debug").NoOptDefVal = "all"

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("ove-core %s\n", Version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if namespace != "" {
		if !config.IsValidNamespace(namespace) {
			return fmt.Errorf("invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)", namespace)
		}
		cfg.Namespace = namespace
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", namespace)
	}

	// In memory only.
	if httpHost != "" {
		cfg.Web.Host = httpHost
	}
	if httpPort != 0 {
		cfg.Web.Port = httpPort
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := openLogger(logFile)
	if err != nil {
		return err
	}
	defer logger.Close()

	debugLogger := openDebugLogger(logDebug, logger)
	if debugLogger != nil {
		defer debugLogger.Close()
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: configPath,
		LogFunc:    logger.Log,
	})

	if addBridge != "" {
		name, secret, err := engine.ParseBridgeSpec(addBridge)
		if err != nil {
			return err
		}
		if err := eng.AddBridge(name, secret); err != nil {
			return fmt.Errorf("adding bridge: %w", err)
		}
		fmt.Printf("Bridge '%s' configured\n", name)
	}

	if err := eng.Start(); err != nil {
		return err
	}
	logger.Log("ove-core %s running (namespace %s). Press Ctrl+C to stop.", Version, cfg.Namespace)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log("Received %v, shutting down...", sig)

	shutdownDone := make(chan struct{})
	go func() {
		eng.Stop()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
	}

	logger.Log("Stopped")
	return nil
}

func openLogger(path string) (*logging.FileLogger, error) {
	if path == "" {
		return logging.NewConsoleLogger(os.Stdout), nil
	}
	l, err := logging.NewFileLogger(path)
	if err != nil {
		return nil, err
	}
	l.SetMirror(os.Stdout)
	return l, nil
}

func openDebugLogger(filter string, logger *logging.FileLogger) *logging.DebugLogger {
	if filter == "" {
		return nil
	}
	dl, err := logging.NewDebugLogger("debug.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		return nil
	}
	dl.SetFilter(filter)
	logging.SetGlobalDebugLogger(dl)
	logger.Log("Debug logging enabled (filter: %s) - writing to debug.log", filter)
	return dl
}
