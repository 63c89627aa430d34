package bms

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the transport uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens the port at path with the given mode.
type Opener func(path string, mode *serial.Mode) (Port, error)

// OpenSerial is the Opener backed by a real serial device.
func OpenSerial(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TransportError wraps any failure of the serial link. The transport is
// always closed when one is returned.
type TransportError struct {
	Op  string // "open", "send" or "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bms: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransportConfig holds the fixed serial link parameters.
type TransportConfig struct {
	PortPath       string
	BaudRate       int
	ReadTimeout    time.Duration // upper bound for one Receive
	SilenceTimeout time.Duration // a read returning nothing for this long ends a Receive
	Verbose        bool
}

const (
	defaultBaudRate       = 57600
	defaultReadTimeout    = 1 * time.Second
	defaultSilenceTimeout = 50 * time.Millisecond
	maxResponseSize       = 4096
)

// Transport owns the serial port to the BMS. Every failure degrades to the
// closed state so the next cycle reopens it.
type Transport struct {
	cfg  TransportConfig
	open Opener
	mu   sync.Mutex
	port Port
}

// NewTransport creates a closed transport. A nil opener means OpenSerial.
func NewTransport(cfg TransportConfig, open Opener) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = defaultSilenceTimeout
	}
	if cfg.SilenceTimeout > cfg.ReadTimeout {
		cfg.SilenceTimeout = cfg.ReadTimeout
	}
	if open == nil {
		open = OpenSerial
	}
	return &Transport{cfg: cfg, open: open}
}

// IsOpen reports whether the port is currently open.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Open opens the port: 8 data bits, no parity, one stop bit, no flow control.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := t.open(t.cfg.PortPath, mode)
	if err != nil {
		return &TransportError{Op: "open", Err: fmt.Errorf("%s: %w", t.cfg.PortPath, err)}
	}
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		port.Close()
		return &TransportError{Op: "open", Err: fmt.Errorf("set timeout: %w", err)}
	}
	t.port = port

	log.Printf("[bms] opened %s at %d baud", t.cfg.PortPath, t.cfg.BaudRate)
	return nil
}

// Send drops any stale input and writes the request byte.
func (t *Transport) Send(code RequestCode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("port closed")}
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return t.fail("send", fmt.Errorf("reset input: %w", err))
	}
	if _, err := t.port.Write([]byte{byte(code)}); err != nil {
		return t.fail("send", fmt.Errorf("write %q: %w", code.String(), err))
	}
	if t.cfg.Verbose {
		log.Printf("[bms] request %q", code.String())
	}
	return nil
}

// Receive returns whatever the BMS sent, possibly nothing. It keeps reading
// until a read comes back empty, ReadTimeout elapses or the buffer is full.
func (t *Transport) Receive() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, &TransportError{Op: "receive", Err: fmt.Errorf("port closed")}
	}
	if err := t.port.SetReadTimeout(t.cfg.SilenceTimeout); err != nil {
		return nil, t.fail("receive", fmt.Errorf("set timeout: %w", err))
	}

	resp := make([]byte, 0, 256)
	buf := make([]byte, 256)
	deadline := time.Now().Add(t.cfg.ReadTimeout)
	for len(resp) < maxResponseSize && time.Now().Before(deadline) {
		n, err := t.port.Read(buf)
		if n > 0 {
			resp = append(resp, buf[:n]...)
		}
		if err != nil {
			return nil, t.fail("receive", err)
		}
		if n == 0 {
			break
		}
	}
	if len(resp) > maxResponseSize {
		resp = resp[:maxResponseSize]
	}
	if t.cfg.Verbose {
		log.Printf("[bms] received %d bytes: %q", len(resp), resp)
	}
	return resp, nil
}

// Close closes the port if open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// fail closes the port and wraps err. Callers hold t.mu.
func (t *Transport) fail(op string, err error) error {
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
	log.Printf("[bms] %s failed, port closed: %v", op, err)
	return &TransportError{Op: op, Err: err}
}
