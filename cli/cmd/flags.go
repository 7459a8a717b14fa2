// Package cmd provides CLI commands for the mirage binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags across commands.
var (
	// ConfigFlag points to the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to mirage.yaml",
		Value:   "mirage.yaml",
	}

	// ListenFlag overrides the configured listen address.
	ListenFlag = &cli.StringFlag{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "HTTP listen address (overrides config)",
	}

	// SessionFlag names the session for one-shot narration.
	SessionFlag = &cli.StringFlag{
		Name:    "session",
		Aliases: []string{"s"},
		Usage:   "Session id for the narrated command",
		Value:   "local",
	}

	// ScriptFlag replays a canned model response instead of calling the
	// model. The file holds the full response text.
	ScriptFlag = &cli.StringFlag{
		Name:  "script",
		Usage: "Path to a canned model response (offline mode)",
	}

	// EventsFlag replays a JSON-lines execution event stream instead of
	// decoding model text.
	EventsFlag = &cli.StringFlag{
		Name:  "events",
		Usage: "Path to a JSON-lines execution event stream (event mode)",
	}
)
