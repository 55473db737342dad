package firmware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/twicore"
)

// Sensor is polled by writing Command (usually a register pointer) and then
// reading Count bytes. Either part may be empty.
type Sensor struct {
	Name    string
	Address byte
	Command []byte
	Count   int
}

type Reading struct {
	Sensor string
	Data   []byte
	Result twicore.Result
	At     time.Time
}

type PollerStats struct {
	Rounds   int
	Readings int
	Failures int
}

type Poller struct {
	bus     twicore.Transactor
	log     *slog.Logger
	period  time.Duration
	sensors []Sensor
	sink    func(Reading)

	mx    sync.Mutex
	stats PollerStats
}

type PollerOption func(*Poller)

// WithSink receives every reading, failed ones included.
func WithSink(f func(Reading)) PollerOption {
	return func(p *Poller) {
		p.sink = f
	}
}

func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.log = l
	}
}

func NewPoller(bus twicore.Transactor, period time.Duration, sensors []Sensor, opts ...PollerOption) *Poller {
	p := &Poller{
		bus:     bus,
		log:     slog.Default(),
		period:  period,
		sensors: sensors,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls every period until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.period)
	defer t.Stop()
	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Poll samples every sensor once. A failed sensor does not stop the round.
func (p *Poller) Poll(ctx context.Context) []Reading {
	readings := make([]Reading, 0, len(p.sensors))
	failed := 0
	for _, s := range p.sensors {
		if ctx.Err() != nil {
			break
		}
		r := p.sample(ctx, s)
		if !r.Result.OK() {
			failed++
			p.log.Warn("sensor failed", "sensor", s.Name, "sev", r.Result.Severity)
		}
		readings = append(readings, r)
		if p.sink != nil {
			p.sink(r)
		}
	}
	p.mx.Lock()
	p.stats.Rounds++
	p.stats.Readings += len(readings) - failed
	p.stats.Failures += failed
	p.mx.Unlock()
	return readings
}

func (p *Poller) sample(ctx context.Context, s Sensor) Reading {
	r := Reading{Sensor: s.Name, At: time.Now()}
	if len(s.Command) > 0 || s.Count == 0 {
		r.Result = p.bus.Send(ctx, s.Address, s.Command)
		if !r.Result.OK() || s.Count == 0 {
			return r
		}
	}
	buf := make([]byte, s.Count)
	n, res := p.bus.Receive(ctx, s.Address, buf)
	r.Data = buf[:n]
	r.Result = res
	return r
}

func (p *Poller) Stats() PollerStats {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.stats
}
