// Command cortex runs the memory sidecar.
//
// Usage:
//
//	cortex serve --config cortex.yaml
//	cortex validate --config cortex.yaml
//	cortex version
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	cortex "github.com/cortexmem/cortex"
	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the sidecar server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(cortex.GetVersion().String())
	return nil
}

// ValidateCmd loads, defaults and validates the configuration.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("configuration ok (server %s:%d, storage %s)\n",
		cfg.Server.Host, cfg.Server.Port, cfg.Storage.DBPath)
	return nil
}

// setupLogging applies CLI overrides on top of the config's logger
// section. The returned cleanup closes the log file, if any.
func setupLogging(cli *CLI, cfg *config.Config) (func(), error) {
	levelStr := cfg.Logger.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	format := cfg.Logger.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}

	output := os.Stderr
	cleanup := func() {}
	path := cfg.Logger.File
	if cli.LogFile != "" {
		path = cli.LogFile
	}
	if path != "" {
		f, closeFn, err := logger.OpenLogFile(path)
		if err != nil {
			return nil, err
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(level, output, format)
	return cleanup, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cortex"),
		kong.Description("Cortex - sidecar memory service for AI agents"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
