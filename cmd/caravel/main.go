package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	forceRebuild := flag.Bool("force-rebuild", false, "Rebuild and push the image even when the tag already exists")
	renderOnly := flag.Bool("render-only", false, "Render the task definition and exit without touching the platform")
	skipBuild := flag.Bool("skip-build", false, "Skip the image build and use the already-pushed tag")
	teardown := flag.Bool("teardown", false, "Delete the managed roles and policies and exit")
	history := flag.Int("history", 0, "Print the N most recent journaled runs and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("caravel %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting caravel",
		"version", Version,
		"config", *configPath,
	)

	// Create deployer
	ctx := context.Background()
	deployer, err := NewDeployer(ctx, cfg, logger)
	if err != nil {
		if dErr, ok := err.(*DeployError); ok {
			logger.Error("failed to create deployer",
				"error", dErr.Err,
				"operation", dErr.Op,
			)
			return dErr.ExitCode
		}
		logger.Error("failed to create deployer", "error", err)
		return ExitConfigError
	}
	defer deployer.Close()

	// Run the selected mode
	if *teardown {
		return finish(logger, "teardown failed", deployer.Teardown(ctx))
	}
	if *history > 0 {
		return finish(logger, "history lookup failed", deployer.History(ctx, *history))
	}
	return finish(logger, "deployment failed", deployer.Deploy(ctx, DeployOptions{
		ForceRebuild: *forceRebuild,
		RenderOnly:   *renderOnly,
		SkipBuild:    *skipBuild,
	}))
}

// finish logs a failed operation and maps it to a process exit code.
func finish(logger *slog.Logger, msg string, err error) int {
	if err == nil {
		return ExitSuccess
	}
	if dErr, ok := err.(*DeployError); ok {
		logger.Error(msg,
			"error", dErr.Err,
			"operation", dErr.Op,
		)
		return dErr.ExitCode
	}
	logger.Error(msg, "error", err)
	return ExitConfigError
}
