package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/db"
	"github.com/hpungsan/paperclip/internal/logging"
	"github.com/hpungsan/paperclip/internal/mcp"
	"github.com/hpungsan/paperclip/internal/registry"
	"github.com/hpungsan/paperclip/internal/sim"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// logLevelEnv selects the log level (debug, info, warn, error).
const logLevelEnv = "PAPERCLIP_LOG_LEVEL"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"capsule": true, "appraise": true, "sim": true,
	"pay": true, "paywall": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___                        _ _
  | _ \__ _ _ __  ___ _ _ __| (_)_ __
  |  _/ _' | '_ \/ -_) '_/ _| | | '_ \
  |_| \__,_| .__/\___|_| \__|_|_| .__/
           |_|                  |_|

  Agents that value, trade and pool what they own

  Usage: paperclip <command> [options]
         paperclip --help

  MCP server mode requires piped input.`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need no database.
	if isHelpOrVersion() {
		app := newCLIApp(nil, logging.NewNop())
		if err := app.Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".paperclip")

	database, err := db.Init(baseDir)
	if err != nil {
		fail("failed to initialize database: %v", err)
	}
	defer database.Close()

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	db.ConfigurePool(database, cfg)

	logger := logging.New(logging.ParseLevel(os.Getenv(logLevelEnv)))
	slog.SetDefault(logger)

	mem, closeMem, err := sim.OpenMemory(context.Background(), cfg, database)
	if err != nil {
		fail("failed to open agent memory: %v", err)
	}
	defer closeMem()

	sink, closeSink, err := sim.OpenSink(cfg)
	if err != nil {
		fail("failed to open event sink: %v", err)
	}
	defer closeSink()

	world := sim.NewWorld(cfg,
		sim.WithRegistry(registry.NewSQL(database)),
		sim.WithMemory(mem),
		sim.WithSink(sink),
		sim.WithLogger(logger),
	)

	if isCLIMode() {
		app := newCLIApp(world, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server).
	// "mcp" forces the server even from a terminal.
	if len(os.Args) >= 2 && os.Args[1] != "mcp" && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'paperclip --help' for usage.\n")
		os.Exit(1)
	}

	if err := mcp.Run(world, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
