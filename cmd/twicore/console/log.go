package console

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

var writer io.Writer = os.Stdout
var errWriter io.Writer = os.Stderr

func SetOutput(w, errw io.Writer) {
	writer = w
	errWriter = errw
}

func Errorf(msg string, args ...any) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Red("ERROR"), fmt.Sprintf(msg, args...))
}

func Warnf(msg string, args ...any) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Yellow("WARN"), fmt.Sprintf(msg, args...))
}

func Infof(msg string, args ...any) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", White("..."), fmt.Sprintf(msg, args...))
}

func Printf(msg string, args ...any) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}

// DiagWriter receives the simulated serial line byte by byte and prints
// whole lines, coloured by level.
type DiagWriter struct {
	mu   sync.Mutex
	line bytes.Buffer
}

func (d *DiagWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range p {
		switch b {
		case '\r':
		case '\n':
			d.flush()
		default:
			d.line.WriteByte(b)
		}
	}
	return len(p), nil
}

// Flush prints a partial line, if any.
func (d *DiagWriter) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line.Len() > 0 {
		d.flush()
	}
}

func (d *DiagWriter) flush() {
	_, _ = fmt.Fprintf(writer, "%s %s\n", Faint("uart|"), Diag(d.line.String()))
	d.line.Reset()
}
