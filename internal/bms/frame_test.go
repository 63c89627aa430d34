package bms

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestParseFrame_Valid(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		code RequestCode
		want string
	}{
		{"single data byte", "|v0105FA|", CodeVoltages, "0105FA"},
		{"leading and trailing noise", "\r\n#junk|x0105FA|garbage", CodeVariables, "0105FA"},
		{"zero data bytes", "|q0000|", CodeConstants, "0000"},
		{"lower case hex kept verbatim", "|t0105fa|", CodeTemperatures, "0105fa"},
		{"other code first", "|v0105FA||x0201FFFE|", CodeVariables, "0201FFFE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tt.buf), tt.code)
			if err != nil {
				t.Fatalf("ParseFrame(%q) err=%v", tt.buf, err)
			}
			if got != tt.want {
				t.Errorf("ParseFrame(%q) = %q, want %q", tt.buf, got, tt.want)
			}
		})
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		code RequestCode
		kind FrameErrorKind
	}{
		{"checksum off by one", "|v0105FB|", CodeVoltages, ChecksumMismatch},
		{"no start", "v0105FA|", CodeVoltages, FrameIncomplete},
		{"wrong code", "|t0105FA|", CodeVoltages, FrameIncomplete},
		{"no end", "|v0105FA", CodeVoltages, FrameIncomplete},
		{"too long", "|v0105FA00|", CodeVoltages, FrameIncomplete},
		{"too short", "|v0205FA|", CodeVoltages, FrameIncomplete},
		{"odd length", "|v0105FA0|", CodeVoltages, FrameIncomplete},
		{"empty payload", "|v|", CodeVoltages, FrameIncomplete},
		{"non hex length", "|vZZ05FA|", CodeVoltages, FrameIncomplete},
		{"non hex data", "|v01G5FA|", CodeVoltages, FrameIncomplete},
		{"noise only", "\r\n\r\n", CodeVoltages, FrameIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tt.buf), tt.code)
			if err == nil {
				t.Fatalf("ParseFrame(%q) = %q, want error", tt.buf, got)
			}
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FrameError, got %T: %v", err, err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", fe.Kind, tt.kind)
			}
			if fe.Code != tt.code {
				t.Errorf("code = %q, want %q", fe.Code, tt.code)
			}
		})
	}
}

func TestParseFrame_Empty(t *testing.T) {
	for _, buf := range [][]byte{nil, {}} {
		_, err := ParseFrame(buf, CodeVariables)
		if !errors.Is(err, ErrNoResponse) {
			t.Fatalf("expected ErrNoResponse, got %v", err)
		}
		var fe *FrameError
		if errors.As(err, &fe) {
			t.Fatalf("empty buffer must not be a frame error")
		}
	}
}

// A '|' inside the payload ends the frame early. The truncated candidate then
// fails the length check, so the frame is dropped rather than misread.
func TestParseFrame_PipeInPayloadTruncates(t *testing.T) {
	_, err := ParseFrame([]byte("|v01|05FA|"), CodeVoltages)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameIncomplete {
		t.Fatalf("expected FrameIncomplete, got %v", err)
	}
}

func TestParseFrame_AllLengthsAndChecksums(t *testing.T) {
	for n := 0; n <= 255; n += 17 {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*31 + n)
		}
		frame := EncodeFrame(CodeResistances, data)
		want := string(frame[2 : len(frame)-1])

		got, err := ParseFrame(frame, CodeResistances)
		if err != nil {
			t.Fatalf("n=%d: ParseFrame err=%v", n, err)
		}
		if got != want {
			t.Fatalf("n=%d: got %q, want %q", n, got, want)
		}

		// Every other checksum byte must be rejected.
		for delta := 1; delta < 256; delta += 51 {
			bad := []byte(want)
			cs := (sumOf(t, want[len(want)-2:]) + delta) % 256
			copy(bad[len(bad)-2:], fmt.Sprintf("%02X", cs))
			if _, err := ParseFrame([]byte("|r"+string(bad)+"|"), CodeResistances); err == nil {
				t.Fatalf("n=%d delta=%d: corrupted checksum accepted", n, delta)
			}
		}
	}
}

func TestParseFrame_Idempotent(t *testing.T) {
	buf := []byte("xx|s03010203F7|yy")
	first, err := ParseFrame(buf, CodeSettings)
	if err != nil {
		t.Fatalf("first parse err=%v", err)
	}
	second, err := ParseFrame(buf, CodeSettings)
	if err != nil {
		t.Fatalf("second parse err=%v", err)
	}
	if first != second || first != "03010203F7" {
		t.Fatalf("got %q then %q", first, second)
	}
}

func TestEncodeFrame(t *testing.T) {
	got := string(EncodeFrame(CodeVoltages, []byte{0x05}))
	if got != "|v0105FA|" {
		t.Fatalf("EncodeFrame = %q, want %q", got, "|v0105FA|")
	}
	if !strings.HasPrefix(string(EncodeFrame(CodeConstants, nil)), "|q0000|") {
		t.Fatalf("empty frame encoded wrong")
	}
}

func sumOf(t *testing.T, pair string) int {
	t.Helper()
	v, err := strconv.ParseUint(pair, 16, 8)
	if err != nil {
		t.Fatalf("bad pair %q: %v", pair, err)
	}
	return int(v)
}
