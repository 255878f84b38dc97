package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/go-logr/zapr"
	"github.com/runningman84/swap-operator/pkg/config"
	"github.com/runningman84/swap-operator/pkg/operator"
	"go.uber.org/zap"
	"k8s.io/klog/v2"
)

// Version can be set at build time using -ldflags
// Example: go build -ldflags="-X main.Version=1.0.0"
var Version = "dev"

func main() {
	// Initialize klog first
	klog.InitFlags(nil)

	mode := flag.String("mode", "direct", "Operation mode: test, direct, or chroot")
	logLevel := flag.String("log-level", "info", "Log level: info or debug")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	configFile := flag.String("config", "", "Optional YAML config file")
	devices := flag.String("devices", "", "Comma-separated swap devices (overrides "+config.SwapDevicesEnvVar+")")
	fstabPath := flag.String("fstab", "", "Mount table to rewrite (overrides FSTAB_PATH)")
	dryRun := flag.Bool("dry-run", false, "Enable dry-run mode (no fstab write, no unmount, format or activation)")
	strictVerify := flag.Bool("strict-verify", false, "Fail if a requested device is not active swap after the run")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("swap-operator version %s\n", Version)
		return
	}

	if *logLevel != "info" && *logLevel != "debug" {
		klog.Fatalf("Invalid log level: %s. Must be one of: info, debug", *logLevel)
	}

	if *logFormat != "text" && *logFormat != "json" {
		klog.Fatalf("Invalid log format: %s. Must be one of: text, json", *logFormat)
	}
	if *logFormat == "json" {
		var zapLog *zap.Logger
		var err error
		if *logLevel == "debug" {
			zapLog, err = zap.NewDevelopment()
		} else {
			zapLog, err = zap.NewProduction()
		}
		if err != nil {
			klog.Fatalf("Failed to initialize JSON logger: %v", err)
		}
		defer zapLog.Sync()

		// Set klog to use zap backend for JSON output
		klog.SetLogger(zapr.NewLogger(zapLog))
	}

	if *logLevel == "debug" {
		flag.Set("v", "1")
	}

	klog.Infof("Starting swap-operator version %s in %s mode with %s log level", Version, *mode, *logLevel)

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.NewConfigFromFile(*mode, *configFile)
		if err != nil {
			klog.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.NewConfig(*mode)
	}
	cfg.LogLevel = *logLevel

	if *devices != "" {
		cfg.SwapDevices = config.ParseDeviceList(*devices)
	}
	if *fstabPath != "" {
		cfg.FstabPath = *fstabPath
	}
	if *dryRun {
		cfg.DryRun = true
		klog.Infof("Dry-run mode enabled via command-line flag")
	}
	if *strictVerify {
		cfg.StrictVerify = true
	}

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	op := operator.NewOperator(cfg)
	result, err := op.Run(context.Background())
	if err != nil {
		klog.Fatalf("Operator failed in state %s: %v", result.State, err)
	}

	klog.Flush()
}
