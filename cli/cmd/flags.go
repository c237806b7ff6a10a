// Package cmd provides CLI commands for the posepipe binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// SequenceFlag points read-only commands at an exported sequence document.
	SequenceFlag = &cli.StringFlag{
		Name:     "sequence",
		Aliases:  []string{"s"},
		Usage:    "Path to an exported sequence document (.msgpack)",
		Required: true,
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
	}
}
