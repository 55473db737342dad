package console

import (
	"strings"

	"github.com/fatih/color"
)

var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Faint  = color.New(color.Faint).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// Diag colours one line of the board's diagnostic stream by its level letter.
func Diag(line string) string {
	switch {
	case strings.HasPrefix(line, "E "):
		return Red(line)
	case strings.HasPrefix(line, "W "):
		return Yellow(line)
	case strings.HasPrefix(line, "D "):
		return Faint(line)
	case strings.HasPrefix(line, "I "):
		return White(line)
	default:
		return Green(line)
	}
}
