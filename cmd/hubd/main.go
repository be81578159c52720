// Command hubd runs an ISCC-HUB declaration timestamping node.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Version is stamped at build time.
var Version = "0.1.0-dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(args[1:], stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServe(args[1:], stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: hubd [command] [flags]

Commands:
  serve    Run the HUB server (default)
  export   Stream a sequence range of the event log as JSON lines
  verify   Re-check stored events: signatures, ISCC-ID composition, digest
  keygen   Generate a new HUB keypair in multibase form
  health   Probe a running HUB's health endpoint

Flags (serve):
  -config PATH   YAML configuration file
`)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
