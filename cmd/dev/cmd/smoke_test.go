package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSmoke(t *testing.T) {
	require.NoError(t, smoke(context.Background(), 5*time.Microsecond, []byte{0x23, 0x3c}))
}

func TestSmokeCmd_InvalidPeripheral(t *testing.T) {
	cmd := SmokeCmd()
	cmd.SetArgs([]string{"--peripheral", "0x80"})
	require.ErrorContains(t, cmd.Execute(), "invalid peripheral address")
}
