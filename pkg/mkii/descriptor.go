package mkii

// DeviceDescriptorSize is the length of the set-device-descriptor argument.
const DeviceDescriptorSize = 298

// DefaultDeviceDescriptor returns the descriptor uploaded before entering
// programming mode on the reference target. Everything not listed is zero.
func DefaultDeviceDescriptor() []byte {
	d := make([]byte, DeviceDescriptorSize)
	for off, v := range map[int]byte{
		243: 0x40,
		245: 0x20,
		253: 0x0A,
		281: 0x40,
		286: 0x80,
		287: 0x07,
		288: 0x01,
		289: 0x02,
		296: 0x3F,
	} {
		d[off] = v
	}
	return d
}
