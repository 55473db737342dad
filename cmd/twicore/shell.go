package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twicore/cmd/twicore/console"
)

const shellHelp = `commands:
  send <addr> [hex...]   write bytes
  recv <addr> <count>    read bytes
  scan                   probe 0x08-0x77
  log <text>             queue a line on the console (sim only)
  stats                  console ring counters (sim only)
  quit`

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive bus session",
	Action: func(c *cli.Context) error {
		t, err := openTarget(c)
		if err != nil {
			return console.Fail("adapter initialization error", err)
		}
		defer closeTarget(t)
		sh, err := console.NewShell(fmt.Sprintf("%s> ", t.cfg.Bus.Adapter))
		if err != nil {
			return console.Fail("terminal error", err)
		}
		defer func() { _ = sh.Close() }()

		for {
			fields, err := sh.Next()
			if errors.Is(err, console.ErrQuit) {
				return nil
			}
			if err != nil {
				return console.Fail("terminal error", err)
			}
			err = dispatch(c, t, fields)
			if errors.Is(err, errUsage) {
				console.Printf("%s\n", shellHelp)
				continue
			}
			if err != nil {
				// a failed command does not end the session
				console.Errorf("%s", err)
			}
		}
	},
}

func dispatch(c *cli.Context, t *target, fields []string) error {
	ctx := busContext(c)
	args := fields[1:]
	switch fields[0] {
	case "send", "tx":
		return doSend(ctx, t, args)
	case "recv", "rx":
		return doRecv(ctx, t, args)
	case "scan":
		return doScan(ctx, t, 0x08, 0x77)
	case "log":
		if t.board == nil {
			return errors.New("no simulated console")
		}
		t.board.Serial.Enqueuef("%s\r\n", strings.Join(args, " "))
		return nil
	case "stats":
		if t.board == nil {
			return errors.New("no simulated console")
		}
		st := t.board.Serial.Stats()
		console.Printf("queued %d sent %d truncated %d dropped %d pending %d\n",
			st.Queued, st.Sent, st.Truncated, st.Dropped, t.board.Serial.Pending())
		return nil
	default:
		return errUsage
	}
}
