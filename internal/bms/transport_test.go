package bms

import (
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

type fakePort struct {
	written  []byte
	chunks   [][]byte // returned one per Read
	resets   int
	closed   bool
	writeErr error
	readErr  error
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, f.chunks[0])
	if n < len(f.chunks[0]) {
		f.chunks[0] = f.chunks[0][n:]
	} else {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) Close() error                       { f.closed = true; return nil }
func (f *fakePort) ResetInputBuffer() error            { f.resets++; return nil }
func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func openerFor(p *fakePort, mode **serial.Mode) Opener {
	return func(path string, m *serial.Mode) (Port, error) {
		if mode != nil {
			*mode = m
		}
		return p, nil
	}
}

func TestTransport_OpenMode(t *testing.T) {
	var mode *serial.Mode
	tr := NewTransport(TransportConfig{PortPath: "/dev/ttyUSB0"}, openerFor(&fakePort{}, &mode))

	if tr.IsOpen() {
		t.Fatalf("new transport reports open")
	}
	if err := tr.Open(); err != nil {
		t.Fatalf("Open err=%v", err)
	}
	if !tr.IsOpen() {
		t.Fatalf("transport not open after Open")
	}
	if mode.BaudRate != 57600 || mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Fatalf("unexpected mode %+v", mode)
	}
}

func TestTransport_OpenFailure(t *testing.T) {
	tr := NewTransport(TransportConfig{PortPath: "/dev/missing"}, func(string, *serial.Mode) (Port, error) {
		return nil, errors.New("no such device")
	})

	err := tr.Open()
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "open" {
		t.Fatalf("expected open TransportError, got %v", err)
	}
	if tr.IsOpen() {
		t.Fatalf("transport open after failed Open")
	}
}

func TestTransport_SendFlushesThenWrites(t *testing.T) {
	p := &fakePort{}
	tr := NewTransport(TransportConfig{}, openerFor(p, nil))
	if err := tr.Open(); err != nil {
		t.Fatalf("Open err=%v", err)
	}

	if err := tr.Send(CodeVariables); err != nil {
		t.Fatalf("Send err=%v", err)
	}
	if p.resets != 1 {
		t.Fatalf("input buffer reset %d times, want 1", p.resets)
	}
	if string(p.written) != "x" {
		t.Fatalf("written %q, want %q", p.written, "x")
	}
}

func TestTransport_ReceiveCollectsChunks(t *testing.T) {
	p := &fakePort{chunks: [][]byte{[]byte("\r\n|v01"), []byte("05FA|")}}
	tr := NewTransport(TransportConfig{}, openerFor(p, nil))
	tr.Open()

	got, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive err=%v", err)
	}
	if string(got) != "\r\n|v0105FA|" {
		t.Fatalf("Receive = %q", got)
	}
}

func TestTransport_ReceiveNothing(t *testing.T) {
	tr := NewTransport(TransportConfig{}, openerFor(&fakePort{}, nil))
	tr.Open()

	got, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive err=%v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Receive = %q, want empty", got)
	}
	if !tr.IsOpen() {
		t.Fatalf("an empty read must not close the port")
	}
}

func TestTransport_ErrorsClosePort(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		p := &fakePort{writeErr: errors.New("device unplugged")}
		tr := NewTransport(TransportConfig{}, openerFor(p, nil))
		tr.Open()

		err := tr.Send(CodeVoltages)
		var te *TransportError
		if !errors.As(err, &te) || te.Op != "send" {
			t.Fatalf("expected send TransportError, got %v", err)
		}
		if tr.IsOpen() || !p.closed {
			t.Fatalf("port left open after write error")
		}
	})

	t.Run("read", func(t *testing.T) {
		p := &fakePort{readErr: errors.New("i/o error")}
		tr := NewTransport(TransportConfig{}, openerFor(p, nil))
		tr.Open()

		_, err := tr.Receive()
		var te *TransportError
		if !errors.As(err, &te) || te.Op != "receive" {
			t.Fatalf("expected receive TransportError, got %v", err)
		}
		if tr.IsOpen() || !p.closed {
			t.Fatalf("port left open after read error")
		}
	})

	t.Run("closed", func(t *testing.T) {
		tr := NewTransport(TransportConfig{}, openerFor(&fakePort{}, nil))
		if err := tr.Send(CodeVoltages); err == nil {
			t.Fatalf("Send on closed transport succeeded")
		}
		if _, err := tr.Receive(); err == nil {
			t.Fatalf("Receive on closed transport succeeded")
		}
	})
}

func TestTransport_Reopen(t *testing.T) {
	p := &fakePort{writeErr: errors.New("gone")}
	tr := NewTransport(TransportConfig{}, openerFor(p, nil))
	tr.Open()
	tr.Send(CodeVariables)

	p.writeErr = nil
	p.closed = false
	if err := tr.Open(); err != nil {
		t.Fatalf("reopen err=%v", err)
	}
	if err := tr.Send(CodeVariables); err != nil {
		t.Fatalf("Send after reopen err=%v", err)
	}
}

func TestDemoPort_AnswersWithValidFrames(t *testing.T) {
	d := NewDemoPort(1)
	tr := NewTransport(TransportConfig{}, DemoOpener(d))
	if err := tr.Open(); err != nil {
		t.Fatalf("Open err=%v", err)
	}

	for _, code := range []RequestCode{CodeConstants, CodeSettings, CodeVariables, CodeVoltages, CodeTemperatures, CodeResistances} {
		if err := tr.Send(code); err != nil {
			t.Fatalf("Send(%q) err=%v", code, err)
		}
		buf, err := tr.Receive()
		if err != nil {
			t.Fatalf("Receive err=%v", err)
		}
		if _, err := ParseFrame(buf, code); err != nil {
			t.Fatalf("demo frame for %q rejected: %v (%q)", code, err, buf)
		}
	}

	d.PoweredOff = true
	tr.Send(CodeVariables)
	buf, _ := tr.Receive()
	if _, err := ParseFrame(buf, CodeVariables); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("powered-off demo answered: %q", buf)
	}
}
