package bms

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Frame layout on the wire:
//
//	<noise> | <code> <LL> <DD...> <CC> | <noise>
//
// LL is the number of data bytes N, every byte rendered as two hex digits.
// The whole hex string is 2*(N+2) digits long and its bytes sum to 0 mod 256.
const frameDelimiter = '|'

// ErrNoResponse is returned when nothing at all was read: the USB link is up
// but the BMS itself is not powered.
var ErrNoResponse = errors.New("bms: no response")

// FrameErrorKind classifies why a response was discarded.
type FrameErrorKind int

const (
	FrameIncomplete FrameErrorKind = iota
	ChecksumMismatch
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameIncomplete:
		return "frame incomplete"
	case ChecksumMismatch:
		return "checksum mismatch"
	}
	return "frame error"
}

// FrameError is returned for a response that could not be validated.
type FrameError struct {
	Kind   FrameErrorKind
	Code   RequestCode
	Detail string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("bms: %s for %q: %s", e.Kind, e.Code.String(), e.Detail)
}

// ParseFrame extracts and validates the frame answering code from buf.
// It returns the hex payload between the delimiters exactly as received
// (length and checksum digits included). It does no I/O and holds no state.
func ParseFrame(buf []byte, code RequestCode) (string, error) {
	if len(buf) == 0 {
		return "", ErrNoResponse
	}

	start := bytes.Index(buf, []byte{frameDelimiter, byte(code)})
	if start < 0 {
		return "", &FrameError{Kind: FrameIncomplete, Code: code, Detail: "start delimiter not found"}
	}
	rest := buf[start+2:]

	end := bytes.IndexByte(rest, frameDelimiter)
	if end < 0 {
		return "", &FrameError{Kind: FrameIncomplete, Code: code, Detail: "end delimiter not found"}
	}
	hexStr := string(rest[:end])

	if len(hexStr) < 4 {
		return "", &FrameError{Kind: FrameIncomplete, Code: code,
			Detail: fmt.Sprintf("payload too short (%d chars)", len(hexStr))}
	}

	n, err := strconv.ParseUint(hexStr[:2], 16, 8)
	if err != nil {
		return "", &FrameError{Kind: FrameIncomplete, Code: code,
			Detail: fmt.Sprintf("bad length byte %q", hexStr[:2])}
	}
	if want := 2 * (int(n) + 2); len(hexStr) != want {
		return "", &FrameError{Kind: FrameIncomplete, Code: code,
			Detail: fmt.Sprintf("got %d chars, length byte says %d", len(hexStr), want)}
	}

	var sum uint
	for i := 0; i < len(hexStr); i += 2 {
		b, err := strconv.ParseUint(hexStr[i:i+2], 16, 8)
		if err != nil {
			return "", &FrameError{Kind: FrameIncomplete, Code: code,
				Detail: fmt.Sprintf("bad hex pair %q at %d", hexStr[i:i+2], i)}
		}
		sum += uint(b)
	}
	if sum%256 != 0 {
		return "", &FrameError{Kind: ChecksumMismatch, Code: code,
			Detail: fmt.Sprintf("byte sum 0x%X", sum)}
	}

	return hexStr, nil
}

// EncodeFrame builds the delimited frame a BMS would send for code carrying
// data, with a correct length prefix and checksum. Used by the simulated BMS.
func EncodeFrame(code RequestCode, data []byte) []byte {
	if len(data) > 0xFF {
		data = data[:0xFF]
	}
	sum := byte(len(data))
	for _, b := range data {
		sum += b
	}
	checksum := -sum

	out := make([]byte, 0, 4+2*(len(data)+2))
	out = append(out, frameDelimiter, byte(code))
	out = append(out, fmt.Sprintf("%02X", len(data))...)
	for _, b := range data {
		out = append(out, fmt.Sprintf("%02X", b)...)
	}
	out = append(out, fmt.Sprintf("%02X", checksum)...)
	out = append(out, frameDelimiter)
	return out
}
