package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mklimuk/twicore/firmware"
	"github.com/mklimuk/twicore/twi/twisim"
	"github.com/mklimuk/twicore/uart"
	"github.com/mklimuk/twicore/uart/uartsim"
)

// SmokeCmd boots the firmware on the simulated board, scans the bus and
// checks that the console drained. It needs no hardware.
func SmokeCmd() *cobra.Command {
	var (
		byteTime    time.Duration
		peripherals []string
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Boot the simulated board and scan its bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			want := make([]byte, 0, len(peripherals))
			for _, p := range peripherals {
				v, err := strconv.ParseUint(p, 0, 7)
				if err != nil {
					return fmt.Errorf("invalid peripheral address %q: %w", p, err)
				}
				want = append(want, byte(v))
			}
			slices.Sort(want)
			return smoke(cmd.Context(), byteTime, want)
		},
	}
	cmd.Flags().DurationVar(&byteTime, "byte-time", 20*time.Microsecond, "simulated console time per byte")
	cmd.Flags().StringSliceVar(&peripherals, "peripheral", []string{"0x23", "0x3c"}, "addresses of the simulated peripherals")
	return cmd
}

func smoke(ctx context.Context, byteTime time.Duration, want []byte) error {
	hw := twisim.New()
	for _, addr := range want {
		hw.Attach(addr, twisim.NewDevice())
	}
	tx := uartsim.New(uartsim.WithByteTime(byteTime))
	tx.Start(ctx)
	defer tx.Close()

	board := firmware.NewBoard(hw, tx, &uart.LockMask{}, firmware.DefaultSettings())
	if err := board.Setup(); err != nil {
		return fmt.Errorf("board setup: %w", err)
	}
	found, err := board.Bus.Scan(ctx, 0x08, 0x77)
	if err != nil {
		return fmt.Errorf("bus scan: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !(tx.Idle() && board.Serial.Pending() == 0) {
		if time.Now().After(deadline) {
			return fmt.Errorf("console stalled with %d bytes queued", board.Serial.Pending())
		}
		time.Sleep(time.Millisecond)
	}
	for _, line := range strings.Split(strings.TrimSpace(tx.String()), "\r\n") {
		slog.Info("uart", "line", line)
	}
	if st := board.Serial.Stats(); st.Dropped > 0 {
		slog.Warn("console dropped messages", "dropped", st.Dropped, "truncated", st.Truncated)
	}
	if !slices.Equal(found, want) {
		return fmt.Errorf("scan found %x, expected %x", found, want)
	}
	slog.Info("smoke passed", "peripherals", len(found), "trace", len(hw.Events()))
	return nil
}
