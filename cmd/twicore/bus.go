package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twicore/cmd/twicore/console"
)

var sendCmd = cli.Command{
	Name:      "send",
	Aliases:   []string{"tx"},
	Usage:     "write bytes to a peripheral",
	ArgsUsage: "<address> [hex bytes...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return console.Exit(2, "usage: send %s", c.Command.ArgsUsage)
		}
		t, err := openTarget(c)
		if err != nil {
			return console.Fail("adapter initialization error", err)
		}
		defer closeTarget(t)
		return doSend(busContext(c), t, c.Args().Slice())
	},
}

var recvCmd = cli.Command{
	Name:      "recv",
	Aliases:   []string{"rx"},
	Usage:     "read bytes from a peripheral",
	ArgsUsage: "<address> <count>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Exit(2, "usage: recv %s", c.Command.ArgsUsage)
		}
		t, err := openTarget(c)
		if err != nil {
			return console.Fail("adapter initialization error", err)
		}
		defer closeTarget(t)
		return doRecv(busContext(c), t, c.Args().Slice())
	},
}

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "list the addresses that acknowledge an empty write",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "from", Value: "0x08"},
		&cli.StringFlag{Name: "to", Value: "0x77"},
	},
	Action: func(c *cli.Context) error {
		from, err := parseAddress(c.String("from"))
		if err != nil {
			return console.Exit(2, "%s", err)
		}
		to, err := parseAddress(c.String("to"))
		if err != nil {
			return console.Exit(2, "%s", err)
		}
		t, err := openTarget(c)
		if err != nil {
			return console.Fail("adapter initialization error", err)
		}
		defer closeTarget(t)
		return doScan(busContext(c), t, from, to)
	},
}

func closeTarget(t *target) {
	if err := t.Close(); err != nil {
		console.Errorf("error closing bus: %s", console.Red(err))
	}
}

func doSend(ctx context.Context, t *target, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		return console.Exit(2, "%s", err)
	}
	data, err := hex.DecodeString(strings.Join(args[1:], ""))
	if err != nil {
		return console.Exit(2, "invalid data: %s", err)
	}
	res := t.tr.Send(ctx, addr, data)
	if !res.OK() {
		return console.Fail("send failed", res.Err())
	}
	console.Infof("sent %s bytes to %s", console.White(res.Count), console.White(fmt.Sprintf("%#02x", addr)))
	return nil
}

func doRecv(ctx context.Context, t *target, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		return console.Exit(2, "%s", err)
	}
	count, err := strconv.Atoi(args[1])
	if err != nil || count < 0 {
		return console.Exit(2, "invalid count %q", args[1])
	}
	buf := make([]byte, count)
	n, res := t.tr.Receive(ctx, addr, buf)
	if n > 0 {
		console.Printf("%s", hex.Dump(buf[:n]))
	}
	if !res.OK() {
		return console.Fail(fmt.Sprintf("receive failed after %d of %d bytes", n, count), res.Err())
	}
	return nil
}

func doScan(ctx context.Context, t *target, from, to byte) error {
	found, err := t.scan(ctx, from, to)
	for _, addr := range found {
		console.Printf("%s\n", console.Green(fmt.Sprintf("%#02x", addr)))
	}
	if err != nil {
		return console.Fail("scan aborted", err)
	}
	if len(found) == 0 {
		console.Infof("no peripheral answered in %#02x-%#02x", from, to)
	}
	return nil
}
