package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore/cmd/twicore/console"
	"github.com/mklimuk/twicore/twi"
	"github.com/mklimuk/twicore/uart"
)

var divisorCmd = cli.Command{
	Name:  "divisor",
	Usage: "show the register values for a clock, bus speed and baud rate",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "clock", Usage: "CPU clock, e.g. 16MHz"},
		&cli.StringFlag{Name: "speed", Usage: "bus speed, e.g. 100kHz"},
		&cli.UintFlag{Name: "baud", Usage: "console baud rate"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Fail("configuration error", err)
		}
		clock := physic.Frequency(cfg.Clock)
		speed := physic.Frequency(cfg.Bus.Speed)
		baud := cfg.Console.Baud
		if s := c.String("clock"); s != "" {
			if err := clock.Set(s); err != nil {
				return console.Exit(2, "invalid clock: %s", err)
			}
		}
		if s := c.String("speed"); s != "" {
			if err := speed.Set(s); err != nil {
				return console.Exit(2, "invalid speed: %s", err)
			}
		}
		if c.IsSet("baud") {
			baud = uint32(c.Uint("baud"))
		}

		twbr, twps, err := twi.BitRate(clock, speed)
		if err != nil {
			return console.Fail("bus", err)
		}
		ubrr, err := uart.BaudDivisor(clock, baud)
		if err != nil {
			return console.Fail("console", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "REGISTER\tVALUE\tRESULT\n")
		_, _ = fmt.Fprintf(w, "TWBR\t%d\t%s\n", twbr, twi.SCL(clock, twbr, twps))
		_, _ = fmt.Fprintf(w, "TWPS\t%d\t\n", twps)
		_, _ = fmt.Fprintf(w, "UBRR (U2X)\t%d\t%d baud (%+.2f%%)\n", ubrr, uart.ActualBaud(clock, ubrr), uart.BaudError(clock, baud, ubrr))
		return w.Flush()
	},
}
