package bms

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DemoPort simulates a BMS on the other end of the serial link, for
// development and testing without hardware. Each request byte written is
// answered with a valid frame, preceded by a little line noise.
type DemoPort struct {
	mu      sync.Mutex
	pending []byte
	t       float64 // virtual time accumulator
	rng     *rand.Rand
	closed  bool

	// PoweredOff makes the BMS stay silent, as when its main supply is off.
	PoweredOff bool
}

// NewDemoPort returns a simulated BMS seeded for repeatable output.
func NewDemoPort(seed int64) *DemoPort {
	return &DemoPort{rng: rand.New(rand.NewSource(seed))}
}

// DemoOpener returns an Opener that always hands out the same simulated BMS.
func DemoOpener(d *DemoPort) Opener {
	return func(string, *serial.Mode) (Port, error) {
		d.mu.Lock()
		d.closed = false
		d.mu.Unlock()
		return d, nil
	}
}

func (d *DemoPort) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.PoweredOff {
		return len(p), nil
	}
	for _, b := range p {
		code := RequestCode(b)
		if !code.Valid() {
			continue
		}
		d.t += 0.3
		d.pending = append(d.pending, '\r', '\n')
		d.pending = append(d.pending, EncodeFrame(code, d.payload(code))...)
	}
	return len(p), nil
}

func (d *DemoPort) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *DemoPort) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	return nil
}

func (d *DemoPort) SetReadTimeout(time.Duration) error { return nil }

func (d *DemoPort) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = nil
	return nil
}

// payload fabricates plausible data for code: cell voltages in 20 mV steps
// above 2 V, temperatures offset by 40 °C, resistances in tenths of mΩ.
func (d *DemoPort) payload(code RequestCode) []byte {
	const cells = 16
	switch code {
	case CodeConstants:
		return []byte{0x01, 0x04, cells, 0x00, 0x64}
	case CodeSettings:
		return []byte{0xAF, 0x5A, 0x3C, 0x14, 0x50, 0x0A}
	case CodeVariables:
		soc := 50 + 40*math.Sin(d.t*0.05)
		current := 100 + 60*math.Sin(d.t*0.2) + d.rng.Float64()*4
		return []byte{byte(soc), byte(current), byte(int(current) >> 8), 0x03, 0x00}
	case CodeVoltages:
		out := make([]byte, cells)
		for i := range out {
			out[i] = byte(60 + 5*math.Sin(d.t*0.1+float64(i)) + d.rng.Float64()*2)
		}
		return out
	case CodeTemperatures:
		out := make([]byte, cells)
		for i := range out {
			out[i] = byte(40 + 25 + d.rng.Float64()*3)
		}
		return out
	case CodeResistances:
		out := make([]byte, cells)
		for i := range out {
			out[i] = byte(20 + d.rng.Intn(5))
		}
		return out
	}
	return []byte{0x00}
}
