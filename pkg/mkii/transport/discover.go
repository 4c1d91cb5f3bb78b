package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// Kind identifies how a probe is reached.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindUSB       Kind = "usb"
	KindSimulator Kind = "simulator"
)

// ParseKind validates a transport kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSerial, KindUSB, KindSimulator:
		return Kind(s), nil
	case "sim":
		return KindSimulator, nil
	}
	return "", fmt.Errorf("transport: unknown kind %q (want serial, usb or simulator)", s)
}

// ProbeInfo describes a candidate connection to a probe.
type ProbeInfo struct {
	Kind        Kind
	Port        string
	Description string
	VendorID    uint16
	ProductID   uint16
	Serial      string
}

// Label returns a user-friendly description.
func (p ProbeInfo) Label() string {
	switch {
	case p.Description != "" && p.Port != "":
		return fmt.Sprintf("%s (%s)", p.Port, p.Description)
	case p.Port != "":
		return p.Port
	case p.Description != "":
		return p.Description
	}
	return fmt.Sprintf("%s %04X:%04X", p.Kind, p.VendorID, p.ProductID)
}

// IsMKII reports whether the USB IDs are those of a JTAG ICE mkII.
func (p ProbeInfo) IsMKII() bool {
	return p.VendorID == VendorIDAtmel && p.ProductID == ProductIDJTAGICE
}

// Discover lists serial ports and mkII USB probes. The simulator entry is
// always present so the tool can be exercised without hardware.
func Discover(ctx context.Context) ([]ProbeInfo, error) {
	results, err := discoverSerial()
	if err != nil {
		return nil, err
	}

	usbProbes, err := discoverUSB(ctx)
	if err != nil {
		return results, err
	}
	results = append(results, usbProbes...)

	return append(results, ProbeInfo{
		Kind:        KindSimulator,
		Description: "Simulator (no hardware)",
	}), nil
}

func discoverSerial() ([]ProbeInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list serial ports: %w", err)
	}

	results := make([]ProbeInfo, 0, len(ports))
	for _, port := range ports {
		info := ProbeInfo{Kind: KindSerial, Port: port.Name}
		if port.IsUSB {
			info.VendorID = parseUSBID(port.VID)
			info.ProductID = parseUSBID(port.PID)
			info.Serial = port.SerialNumber
			info.Description = port.Product
		}
		results = append(results, info)
	}
	return results, nil
}

func discoverUSB(ctx context.Context) ([]ProbeInfo, error) {
	var results []ProbeInfo
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if desc.Vendor == VendorIDAtmel && desc.Product == ProductIDJTAGICE {
			results = append(results, ProbeInfo{
				Kind:        KindUSB,
				Description: "Atmel JTAG ICE mkII",
				VendorID:    uint16(desc.Vendor),
				ProductID:   uint16(desc.Product),
				Port:        fmt.Sprintf("bus %d addr %d", desc.Bus, desc.Address),
			})
		}
		return false
	})
	if err != nil && !isAccessDenied(err) {
		return results, fmt.Errorf("transport: usb enumerate: %w", err)
	}
	return results, nil
}

// isAccessDenied reports a device the user may not open. Enumeration still
// sees its descriptor, so it is not a failure.
func isAccessDenied(err error) bool {
	return errors.Is(err, gousb.ErrorAccess)
}

func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
