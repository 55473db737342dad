package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twicore/cmd/twicore/console"
	"github.com/mklimuk/twicore/firmware"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "poll the configured sensors until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "duration", Usage: "stop after this long (0 runs until interrupted)"},
	},
	Action: func(c *cli.Context) error {
		t, err := openTarget(c)
		if err != nil {
			return console.Fail("adapter initialization error", err)
		}
		defer closeTarget(t)
		sensors := t.cfg.Sensors()
		if len(sensors) == 0 {
			return console.Exit(2, "no sensors configured")
		}

		ctx, stop := signal.NotifyContext(busContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d := c.Duration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		logger := slog.Default()
		if t.board != nil {
			// readings go out on the simulated console like on the board
			logger = t.board.Log
		}
		p := firmware.NewPoller(t.tr, t.cfg.Poll.Period, sensors,
			firmware.WithPollerLogger(logger),
			firmware.WithSink(func(r firmware.Reading) {
				if !r.Result.OK() {
					return
				}
				logger.Info("read", "sensor", r.Sensor, "data", r.Data)
				if t.board == nil {
					console.Printf("%s %s %s\n", console.Faint(r.At.Format(time.TimeOnly)), console.White(r.Sensor), hex.EncodeToString(r.Data))
				}
			}),
		)
		console.Infof("polling %d sensors every %s", len(sensors), t.cfg.Poll.Period)
		if err := p.Run(ctx); err != nil {
			return console.Fail("poller", err)
		}
		st := p.Stats()
		console.Infof("%d rounds, %s readings, %s failures", st.Rounds,
			console.Green(st.Readings), console.Red(st.Failures))
		return nil
	},
}
