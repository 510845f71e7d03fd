package hal

import (
	"context"
	"os"

	"github.com/valorence/relayctl/internal/errcode"
)

// watchdogOpen is overridden in tests so Reboot can be exercised without a
// real watchdog device file.
var watchdogOpen = func(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}

// Reboot performs the one-shot watchdog write: writing a single byte to the
// device file and deliberately NOT closing the handle triggers a
// supervised reboot. Closing it normally would disarm the watchdog, which
// is why the handle is intentionally leaked for the remainder of process
// lifetime (the process is about to be rebooted anyway).
func (c *Chip) Reboot(ctx context.Context) error {
	if c.watchdogPath == "" {
		return errcode.Wrap("hal.Reboot", errcode.Unsupported, nil)
	}
	f, err := watchdogOpen(c.watchdogPath)
	if err != nil {
		return errcode.Wrap("hal.Reboot", errcode.HardwareUnavailable, err)
	}
	if _, err := f.Write([]byte{'1'}); err != nil {
		return errcode.Wrap("hal.Reboot", errcode.BusError, err)
	}
	return nil
}
