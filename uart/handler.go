package uart

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
)

// Handler is a slog.Handler that renders one record per line into a
// StageSize buffer and queues it on the channel:
//
//	W twi tx: SLA+W sent, NACK addr=0x3c st=0x20\r\n
//
// Output that does not fit is cut, the line terminator is always kept.
type Handler struct {
	ch     *Channel
	level  slog.Leveler
	attrs  []byte
	prefix string
}

var _ slog.Handler = &Handler{}

func NewHandler(ch *Channel, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{ch: ch, level: level}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var stage [StageSize]byte
	l := stageLine{b: stage[:0:StageSize-2]}
	l.add(levelLetter(r.Level))
	l.add(" ")
	l.add(r.Message)
	l.add(string(h.attrs))
	r.Attrs(func(a slog.Attr) bool {
		if l.full() {
			l.cut = true
			return false
		}
		l.attr(h.prefix, a)
		return true
	})
	out := append(stage[:len(l.b)], '\r', '\n')
	h.ch.enqueueStaged(out, l.cut)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	n := *h
	l := stageLine{b: append(make([]byte, 0, StageSize), h.attrs...)}
	for _, a := range attrs {
		l.attr(h.prefix, a)
	}
	n.attrs = l.b
	return &n
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := *h
	n.prefix = h.prefix + name + "."
	return &n
}

func levelLetter(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "E"
	case l >= slog.LevelWarn:
		return "W"
	case l >= slog.LevelInfo:
		return "I"
	default:
		return "D"
	}
}

func (l *stageLine) attr(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, g := range a.Value.Group() {
			l.attr(p, g)
		}
		return
	}
	l.add(" ")
	l.add(prefix)
	l.add(a.Key)
	l.add("=")
	l.add(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch a := v.Any().(type) {
		case []byte:
			return hex.EncodeToString(a)
		case fmt.Stringer:
			return a.String()
		case error:
			return a.Error()
		}
	}
	return v.String()
}

// stageLine is a bounded line: text past cap(b) is cut and cut is set.
type stageLine struct {
	b   []byte
	cut bool
}

func (l *stageLine) add(s string) {
	room := cap(l.b) - len(l.b)
	if len(s) > room {
		s = s[:room]
		l.cut = true
	}
	l.b = append(l.b, s...)
}

func (l *stageLine) full() bool {
	return len(l.b) == cap(l.b)
}
