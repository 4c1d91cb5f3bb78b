package mkii

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// MCUVersion holds the version bytes reported for one of the probe's two
// microcontrollers.
type MCUVersion struct {
	Bootloader byte
	FWMinor    byte
	FWMajor    byte
	Hardware   byte
}

func (v MCUVersion) String() string {
	return fmt.Sprintf("fw %d.%02d hw %d boot 0x%02X", v.FWMajor, v.FWMinor, v.Hardware, v.Bootloader)
}

// SignOnInfo is the decoded payload of a sign-on reply.
type SignOnInfo struct {
	ProtocolVersion byte
	Master          MCUVersion
	Slave           MCUVersion
	Serial          [6]byte
	DeviceName      string
}

// SerialString renders the serial number the way it is printed on the
// probe label.
func (i SignOnInfo) SerialString() string {
	return hex.EncodeToString(i.Serial[:])
}

const signOnMinLen = 15

// ParseSignOnInfo decodes reply data (reply code already stripped).
func ParseSignOnInfo(data []byte) (SignOnInfo, error) {
	if len(data) < signOnMinLen {
		return SignOnInfo{}, fmt.Errorf("mkii: sign-on reply too short: %d bytes", len(data))
	}
	info := SignOnInfo{
		ProtocolVersion: data[0],
		Master:          MCUVersion{Bootloader: data[1], FWMinor: data[2], FWMajor: data[3], Hardware: data[4]},
		Slave:           MCUVersion{Bootloader: data[5], FWMinor: data[6], FWMajor: data[7], Hardware: data[8]},
	}
	copy(info.Serial[:], data[9:15])

	name := data[15:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	info.DeviceName = string(name)
	return info, nil
}
