package mkii

// CRCParams describes a reflected 16-bit CRC.
type CRCParams struct {
	Name string
	// Poly is the reflected (LSB-first) polynomial.
	Poly   uint16
	Init   uint16
	XorOut uint16
}

// CRC16MCRF4XX is the checksum carried by mkII frames: reflected CCITT
// polynomial, initial value 0xFFFF, no final XOR.
var CRC16MCRF4XX = CRCParams{
	Name:   "CRC-16/MCRF4XX",
	Poly:   0x8408,
	Init:   0xFFFF,
	XorOut: 0x0000,
}

// CRCTable is a precomputed byte-wise lookup table for a CRCParams.
type CRCTable struct {
	params CRCParams
	table  [256]uint16
}

// MakeCRCTable builds the lookup table for p.
func MakeCRCTable(p CRCParams) *CRCTable {
	t := &CRCTable{params: p}
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ p.Poly
			} else {
				crc >>= 1
			}
		}
		t.table[i] = crc
	}
	return t
}

// Params returns the parameters the table was built from.
func (t *CRCTable) Params() CRCParams {
	return t.params
}

// Checksum computes the CRC of data.
func (t *CRCTable) Checksum(data []byte) uint16 {
	crc := t.params.Init
	for _, b := range data {
		crc = (crc >> 8) ^ t.table[byte(crc)^b]
	}
	return crc ^ t.params.XorOut
}

var frameCRC = MakeCRCTable(CRC16MCRF4XX)

// CRC16 computes the frame checksum of data.
func CRC16(data []byte) uint16 {
	return frameCRC.Checksum(data)
}
