package sensor

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/valorence/relayctl/internal/hal"
)

// AHT20 register map and status bits, per the AHT20 datasheet.
const (
	aht20CmdTrigger    = 0xAC
	aht20StatusBusy    = 0x80
	aht20StatusCalibed = 0x08
)

// EnvironmentalReader drives an AHT20-class sensor over I2C: trigger a
// conversion, poll until the busy bit clears or the deadline passes, then
// decode the 20-bit humidity/temperature words into float64 fields.
type EnvironmentalReader struct {
	H            hal.HAL
	BusID        string
	Address      uint16
	PollInterval time.Duration
}

func (r EnvironmentalReader) Read(ctx context.Context) (map[string]float64, error) {
	poll := r.PollInterval
	if poll <= 0 {
		poll = 15 * time.Millisecond
	}
	if err := r.H.I2CWrite(ctx, r.BusID, r.Address, aht20CmdTrigger, []byte{0x33, 0x00}); err != nil {
		return nil, err
	}
	for {
		data, err := r.H.I2CRead(ctx, r.BusID, r.Address, 0x00, 6)
		if err != nil {
			return nil, err
		}
		if data[0]&aht20StatusCalibed != 0 && data[0]&aht20StatusBusy == 0 {
			hraw := (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
			traw := (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])
			humidity := float64(hraw) * 100.0 / 0x100000
			celsius := float64(traw)*200.0/0x100000 - 50
			return map[string]float64{"temperature": celsius, "humidity": humidity}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// PowerReader drives an INA260-class power monitor: two 16-bit big-endian
// registers for bus voltage (1.25 mV/LSB) and current (1.25 mA/LSB), with
// power derived rather than read from a third register (keeps the reader
// correct across the handful of near-compatible parts that only expose
// voltage+current).
type PowerReader struct {
	H               hal.HAL
	BusID           string
	Address         uint16
	VoltageRegister byte
	CurrentRegister byte
}

func (r PowerReader) Read(ctx context.Context) (map[string]float64, error) {
	vRaw, err := r.H.I2CRead(ctx, r.BusID, r.Address, r.VoltageRegister, 2)
	if err != nil {
		return nil, err
	}
	iRaw, err := r.H.I2CRead(ctx, r.BusID, r.Address, r.CurrentRegister, 2)
	if err != nil {
		return nil, err
	}
	voltage := float64(binary.BigEndian.Uint16(vRaw)) * 0.00125
	current := float64(int16(binary.BigEndian.Uint16(iRaw))) * 0.00125
	return map[string]float64{
		"voltage": voltage,
		"current": current,
		"power":   voltage * current,
	}, nil
}
