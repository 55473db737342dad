// Package config loads the board description used by the command line tool.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/firmware"
	"github.com/mklimuk/twicore/twi"
	"github.com/mklimuk/twicore/uart"
)

// Adapters lists the accepted bus transports.
var Adapters = []string{"sim", "linux", "nanopi", "mcp2221"}

var ErrInvalid = errors.New("invalid configuration")

// Frequency accepts values like "16MHz" or "100kHz".
type Frequency physic.Frequency

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	var v physic.Frequency
	if err := v.Set(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*f = Frequency(v)
	return nil
}

func (f Frequency) MarshalYAML() (any, error) {
	return physic.Frequency(f).String(), nil
}

type Config struct {
	Clock   Frequency `yaml:"clock"`
	Bus     Bus       `yaml:"bus"`
	Console Console   `yaml:"console"`
	Poll    Poll      `yaml:"poll"`
	Sim     Sim       `yaml:"sim"`
}

type Bus struct {
	Speed   Frequency `yaml:"speed"`
	Adapter string    `yaml:"adapter"`
	// Device is the host bus name used by the linux adapter, e.g. /dev/i2c-1.
	Device string `yaml:"device"`
	// Number is the bus number used by the nanopi adapter.
	Number int `yaml:"number"`
}

type Console struct {
	Baud  uint32 `yaml:"baud"`
	Ring  int    `yaml:"ring"`
	Level string `yaml:"level"`
}

type Poll struct {
	Period  time.Duration `yaml:"period"`
	Sensors []Sensor      `yaml:"sensors"`
}

type Sensor struct {
	Name    string  `yaml:"name"`
	Address uint8   `yaml:"address"`
	Command []uint8 `yaml:"command,omitempty"`
	Count   int     `yaml:"count"`
}

// Sim describes the simulated bus used by the sim adapter.
type Sim struct {
	ByteTime    time.Duration `yaml:"byte_time"`
	Latency     int           `yaml:"latency"`
	Peripherals []Peripheral  `yaml:"peripherals"`
}

type Peripheral struct {
	Address   uint8   `yaml:"address"`
	Data      []uint8 `yaml:"data,omitempty"`
	Nack      bool    `yaml:"nack"`
	NackAfter int     `yaml:"nack_after"`
}

// Default mirrors the reference board: ATmega2560 at 16MHz, bus at 100kHz,
// console at 115200 baud with a 128 byte ring.
func Default() *Config {
	s := firmware.DefaultSettings()
	return &Config{
		Clock: Frequency(s.Clock),
		Bus: Bus{
			Speed:   Frequency(s.BusSpeed),
			Adapter: "sim",
			Device:  "/dev/i2c-1",
			Number:  2,
		},
		Console: Console{
			Baud:  s.Baud,
			Ring:  s.RingCapacity,
			Level: "info",
		},
		Poll: Poll{
			Period: 200 * time.Millisecond,
		},
	}
}

// Load reads the file at path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, _, err := twi.BitRate(physic.Frequency(c.Clock), physic.Frequency(c.Bus.Speed)); err != nil {
		errs = append(errs, fmt.Errorf("bus.speed: %w", err))
	}
	if _, err := uart.BaudDivisor(physic.Frequency(c.Clock), c.Console.Baud); err != nil {
		errs = append(errs, fmt.Errorf("console.baud: %w", err))
	}
	if c.Console.Ring < 2 {
		errs = append(errs, fmt.Errorf("console.ring: %d is below 2 bytes", c.Console.Ring))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("console.level: %w", err))
	}
	if !slices.Contains(Adapters, c.Bus.Adapter) {
		errs = append(errs, fmt.Errorf("bus.adapter: unknown adapter %q", c.Bus.Adapter))
	}
	if c.Poll.Period <= 0 {
		errs = append(errs, errors.New("poll.period: must be positive"))
	}
	for i, s := range c.Poll.Sensors {
		if s.Address > twicore.MaxAddress {
			errs = append(errs, fmt.Errorf("poll.sensors[%d]: %w: %#02x", i, twicore.ErrInvalidAddress, s.Address))
		}
		if s.Count < 0 {
			errs = append(errs, fmt.Errorf("poll.sensors[%d]: negative count", i))
		}
	}
	for i, p := range c.Sim.Peripherals {
		if p.Address > twicore.MaxAddress {
			errs = append(errs, fmt.Errorf("sim.peripherals[%d]: %w: %#02x", i, twicore.ErrInvalidAddress, p.Address))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.Console.Level))
	return l, err
}

// Settings converts the board part of the configuration.
func (c *Config) Settings() firmware.Settings {
	level, _ := c.Level()
	return firmware.Settings{
		Clock:        physic.Frequency(c.Clock),
		BusSpeed:     physic.Frequency(c.Bus.Speed),
		Baud:         c.Console.Baud,
		RingCapacity: c.Console.Ring,
		Level:        level,
	}
}

func (c *Config) Sensors() []firmware.Sensor {
	out := make([]firmware.Sensor, 0, len(c.Poll.Sensors))
	for _, s := range c.Poll.Sensors {
		out = append(out, firmware.Sensor{
			Name:    s.Name,
			Address: s.Address,
			Command: s.Command,
			Count:   s.Count,
		})
	}
	return out
}
