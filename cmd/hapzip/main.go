// Command hapzip inspects and extracts application package archives.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

func main() {
	var cli Cli
	ctx := kong.Parse(&cli,
		kong.Name("hapzip"),
		kong.Description("Read-only access to application package archives."),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	cli.out = os.Stdout
	cli.logger = newLogger(os.Stderr, cli.LogLevel, cli.LogJSON)

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// newLogger builds the process logger from the logging flags.
func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
