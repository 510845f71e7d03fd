// Package hal is the sole owner of the GPIO chip handle and the I2C bus
// descriptors. Every other component speaks to hardware only through the
// HAL interface; no component outside this package is allowed to see a
// periph.io handle directly.
package hal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valorence/relayctl/internal/errcode"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// HAL is the narrow contract every other component depends on. A single
// in-flight access per line/bus is the implementation's job, not the
// caller's — callers never hold a lock across these calls.
type HAL interface {
	ConfigureLine(ctx context.Context, line int, initialHigh bool) error
	WriteLine(ctx context.Context, line int, high bool) error
	ReadLine(ctx context.Context, line int) (bool, error)
	I2CRead(ctx context.Context, busID string, addr uint16, reg byte, length int) ([]byte, error)
	I2CWrite(ctx context.Context, busID string, addr uint16, reg byte, data []byte) error
	// Reboot performs the one-shot watchdog write: the supervised reboot
	// contract relies on the handle never being closed after this call.
	Reboot(ctx context.Context) error
}

type lineHandle struct {
	mu  sync.Mutex
	pin gpio.PinIO
}

type busHandle struct {
	mu  sync.Mutex
	bus i2c.Bus
}

// Chip is the periph.io-backed HAL implementation for a Linux SBC host.
type Chip struct {
	linesMu sync.RWMutex
	lines   map[int]*lineHandle

	busesMu sync.RWMutex
	buses   map[string]*busHandle

	watchdogPath string
	opTimeout    time.Duration
}

// ChipConfig names the GPIO lines and I2C buses the runtime will use, and
// the watchdog device path for the reboot hook.
type ChipConfig struct {
	GPIOLines    []int
	I2CBusNames  []string // e.g. "/dev/i2c-1"
	WatchdogPath string // e.g. "/dev/watchdog"; empty disables Reboot
	OpTimeout    time.Duration
}

// NewChip initializes periph's host drivers and opens the configured GPIO
// lines and I2C buses once, up front. Fails fast (HardwareUnavailable) if a
// named line or bus cannot be opened — per §7, this is a startup-fatal
// condition.
func NewChip(cfg ChipConfig) (*Chip, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap("hal.NewChip", errcode.HardwareUnavailable, err)
	}
	c := &Chip{
		lines:        make(map[int]*lineHandle, len(cfg.GPIOLines)),
		buses:        make(map[string]*busHandle, len(cfg.I2CBusNames)),
		watchdogPath: cfg.WatchdogPath,
		opTimeout:    cfg.OpTimeout,
	}
	if c.opTimeout <= 0 {
		c.opTimeout = 2 * time.Second
	}
	for _, line := range cfg.GPIOLines {
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", line))
		if pin == nil {
			return nil, errcode.Wrap("hal.NewChip", errcode.HardwareUnavailable,
				fmt.Errorf("gpio line %d not found", line))
		}
		c.lines[line] = &lineHandle{pin: pin}
	}
	for _, name := range cfg.I2CBusNames {
		bus, err := i2creg.Open(name)
		if err != nil {
			return nil, errcode.Wrap("hal.NewChip", errcode.HardwareUnavailable, err)
		}
		c.buses[name] = &busHandle{bus: bus}
	}
	return c, nil
}

func (c *Chip) line(n int) (*lineHandle, error) {
	c.linesMu.RLock()
	defer c.linesMu.RUnlock()
	h, ok := c.lines[n]
	if !ok {
		return nil, errcode.Wrap("hal.line", errcode.UnknownPin, fmt.Errorf("line %d not configured", n))
	}
	return h, nil
}

func (c *Chip) busByID(id string) (*busHandle, error) {
	c.busesMu.RLock()
	defer c.busesMu.RUnlock()
	h, ok := c.buses[id]
	if !ok {
		return nil, errcode.Wrap("hal.bus", errcode.UnknownBus, fmt.Errorf("bus %q not configured", id))
	}
	return h, nil
}

// ConfigureLine sets the line's direction to output with the given initial
// level; it is called once per relay at startup.
func (c *Chip) ConfigureLine(ctx context.Context, line int, initialHigh bool) error {
	h, err := c.line(line)
	if err != nil {
		return err
	}
	return c.withLineDeadline(ctx, h, func() error {
		lvl := gpio.Low
		if initialHigh {
			lvl = gpio.High
		}
		if err := h.pin.Out(lvl); err != nil {
			return errcode.Wrap("hal.ConfigureLine", errcode.BusError, err)
		}
		return nil
	})
}

// WriteLine drives the line to the given level.
func (c *Chip) WriteLine(ctx context.Context, line int, high bool) error {
	h, err := c.line(line)
	if err != nil {
		return err
	}
	return c.withLineDeadline(ctx, h, func() error {
		lvl := gpio.Low
		if high {
			lvl = gpio.High
		}
		if err := h.pin.Out(lvl); err != nil {
			return errcode.Wrap("hal.WriteLine", errcode.BusError, err)
		}
		return nil
	})
}

// ReadLine reads back the line's current level, used both for sensing
// input lines and for B's read-back confirmation after a write.
func (c *Chip) ReadLine(ctx context.Context, line int) (bool, error) {
	h, err := c.line(line)
	if err != nil {
		return false, err
	}
	var high bool
	err = c.withLineDeadline(ctx, h, func() error {
		high = h.pin.Read() == gpio.High
		return nil
	})
	return high, err
}

func (c *Chip) withLineDeadline(ctx context.Context, h *lineHandle, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errcode.Timeout
	case <-time.After(c.opTimeout):
		return errcode.Timeout
	}
}

// I2CRead writes a register address then reads length bytes back.
func (c *Chip) I2CRead(ctx context.Context, busID string, addr uint16, reg byte, length int) ([]byte, error) {
	h, err := c.busByID(busID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	err = c.withBusDeadline(ctx, h, func() error {
		if err := h.bus.Tx(addr, []byte{reg}, out); err != nil {
			return errcode.Wrap("hal.I2CRead", errcode.BusError, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// I2CWrite writes a register address followed by data in a single transaction.
func (c *Chip) I2CWrite(ctx context.Context, busID string, addr uint16, reg byte, data []byte) error {
	h, err := c.busByID(busID)
	if err != nil {
		return err
	}
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	return c.withBusDeadline(ctx, h, func() error {
		if err := h.bus.Tx(addr, w, nil); err != nil {
			return errcode.Wrap("hal.I2CWrite", errcode.BusError, err)
		}
		return nil
	})
}

func (c *Chip) withBusDeadline(ctx context.Context, h *busHandle, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errcode.Timeout
	case <-time.After(c.opTimeout):
		return errcode.Timeout
	}
}
