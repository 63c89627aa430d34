package bms

// RequestCode is the single byte sent to the BMS to select which block of
// data it answers with. The BMS echoes it back at the start of its frame.
type RequestCode byte

const (
	CodePower         RequestCode = 'p'
	CodeConstants     RequestCode = 'q'
	CodeSettings      RequestCode = 's'
	CodeVariables     RequestCode = 'x'
	CodeVoltages      RequestCode = 'v'
	CodeTemperatures  RequestCode = 't'
	CodeResistances   RequestCode = 'r'
	CodeDisplaySerial RequestCode = 'n'
)

// AllCodes is the order records are rendered in the snapshot file.
var AllCodes = []RequestCode{
	CodePower,
	CodeConstants,
	CodeSettings,
	CodeVariables,
	CodeVoltages,
	CodeTemperatures,
	CodeResistances,
	CodeDisplaySerial,
}

// ForwardCodes is the order records are sent to the remote collector.
var ForwardCodes = []RequestCode{
	CodeDisplaySerial,
	CodePower,
	CodeConstants,
	CodeSettings,
	CodeVariables,
	CodeVoltages,
	CodeTemperatures,
	CodeResistances,
}

// SecondaryCodes are polled round-robin, interleaved with the variables.
var SecondaryCodes = []RequestCode{
	CodeVoltages,
	CodeTemperatures,
	CodeResistances,
}

func (c RequestCode) String() string { return string(rune(c)) }

// Valid reports whether c is one of the known request codes.
func (c RequestCode) Valid() bool {
	for _, k := range AllCodes {
		if k == c {
			return true
		}
	}
	return false
}

// PowerStatus is the power state reported to the display, derived from the
// outcome of the most recent poll.
type PowerStatus int8

const (
	// PowerUnknown holds only until the first poll or identity check.
	PowerUnknown         PowerStatus = -1
	PowerBootlegCopy     PowerStatus = 0
	PowerUsbDisconnected PowerStatus = 1
	PowerOff             PowerStatus = 2
	PowerOn              PowerStatus = 3
)

// Code returns the single-character form written to the snapshot ("0".."3"),
// or "" while the status is unknown.
func (p PowerStatus) Code() string {
	switch p {
	case PowerBootlegCopy:
		return "0"
	case PowerUsbDisconnected:
		return "1"
	case PowerOff:
		return "2"
	case PowerOn:
		return "3"
	}
	return ""
}

func (p PowerStatus) String() string {
	switch p {
	case PowerBootlegCopy:
		return "bootleg-copy"
	case PowerUsbDisconnected:
		return "usb-disconnected"
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	}
	return "unknown"
}
