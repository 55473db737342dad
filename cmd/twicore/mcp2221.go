package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/twicore/adapter"
	"github.com/mklimuk/twicore/cmd/twicore/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "inspect the USB bridge",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the bridge engine state",
	Action: func(c *cli.Context) error {
		return printStatus(busContext(c), adapter.NewMCP2221().Status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		return printStatus(busContext(c), adapter.NewMCP2221().ReleaseBus)
	},
}

func printStatus(ctx context.Context, get func(context.Context) (*adapter.Status, error)) error {
	status, err := get(ctx)
	if err != nil {
		return console.Fail("adapter communication error", err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	if err := enc.Encode(status); err != nil {
		return console.Fail("encoding error", err)
	}
	return nil
}
