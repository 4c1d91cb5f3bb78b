package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

const (
	// JTAG ICE mkII USB identifiers
	VendorIDAtmel    = 0x03EB
	ProductIDJTAGICE = 0x2103

	// Bulk endpoint numbers (addresses 0x02 and 0x82)
	EndpointOut = 0x02
	EndpointIn  = 0x02

	DefaultUSBTimeout = 5 * time.Second
)

// USBTransport is a mkii.Transport over the probe's USB bulk endpoints.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
	serial     string

	log *zap.Logger
}

var (
	_ mkii.Transport = (*USBTransport)(nil)
	_ io.Closer      = (*USBTransport)(nil)
)

// OpenUSB opens the first mkII probe, or the one whose serial number
// matches serialNumber when it is not empty.
func OpenUSB(serialNumber string, timeout time.Duration, log *zap.Logger) (*USBTransport, error) {
	if timeout == 0 {
		timeout = DefaultUSBTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx := gousb.NewContext()
	dev, err := openProbe(ctx, serialNumber)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: 64,
		timeout:    timeout,
		serial:     serialNumber,
		log:        log,
	}
	if err := t.claim(); err != nil {
		t.Close()
		return nil, err
	}

	log.Info("usb probe opened",
		zap.String("serial", serialNumber),
		zap.Int("packet_size", t.packetSize),
	)
	return t, nil
}

func openProbe(ctx *gousb.Context, serialNumber string) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorIDAtmel && desc.Product == ProductIDJTAGICE
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("transport: usb: %w", err)
	}

	var found *gousb.Device
	for _, dev := range devs {
		if found == nil {
			sn, _ := dev.SerialNumber()
			if serialNumber == "" || sn == serialNumber {
				found = dev
				continue
			}
		}
		dev.Close()
	}
	if found == nil {
		return nil, fmt.Errorf("transport: no JTAG ICE mkII found (VID:0x%04X PID:0x%04X serial %q)",
			VendorIDAtmel, ProductIDJTAGICE, serialNumber)
	}
	return found, nil
}

// claim selects configuration 1, interface 0 and its bulk endpoints.
func (t *USBTransport) claim() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("transport: usb config: %w", err)
	}
	t.cfg = cfg

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("transport: claim interface 0: %w", err)
	}
	t.intf = intf

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType == gousb.TransferTypeBulk && ep.Direction == gousb.EndpointDirectionIn && ep.Number == EndpointIn {
			t.packetSize = ep.MaxPacketSize
		}
	}

	if t.epOut, err = intf.OutEndpoint(EndpointOut); err != nil {
		return fmt.Errorf("transport: open OUT endpoint: %w", err)
	}
	if t.epIn, err = intf.InEndpoint(EndpointIn); err != nil {
		return fmt.Errorf("transport: open IN endpoint: %w", err)
	}
	return nil
}

// Write sends a frame as one bulk transfer.
func (t *USBTransport) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epOut.WriteContext(ctx, p)
	if err != nil {
		return n, fmt.Errorf("transport: usb write: %w", err)
	}
	return n, nil
}

// Read receives up to len(p) bytes. p should be a multiple of the packet
// size so a full packet is never truncated.
func (t *USBTransport) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epIn.ReadContext(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return n, ErrReadTimeout
		}
		return n, fmt.Errorf("transport: usb read: %w", err)
	}
	return n, nil
}

// PacketSize returns the IN endpoint's max packet size.
func (t *USBTransport) PacketSize() int {
	return t.packetSize
}

// SetTimeout sets the per-transfer timeout.
func (t *USBTransport) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Close releases USB resources.
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
