package gmasm

import "encoding/binary"

// ObjectCode is the flat, address-indexed instruction vector produced by a
// completed Linker pass: ObjectCode[addr] is the word that belongs at
// program address addr.
type ObjectCode []*Instruction

// gotoZero is the GOTO-0 padding word used to fill a short flash block.
const gotoZero uint32 = 0x03000000

// swapHalves reorders a 32-bit word so its high 16 bits precede its low 16
// bits on the wire (every multi-word exchange in this protocol is
// byte-swapped this way).
func swapHalves(w uint32) uint32 {
	return (w&0xFFFF)<<16 | (w&0xFFFF0000)>>16
}

// FlashBlock returns n instructions worth of wire bytes (4*n bytes) for
// programming into flash starting at addr. Addresses at or past the end of
// the object code are padded with GOTO 0 rather than left short, so every
// block handed to the programmer is exactly 4*n bytes.
func (oc ObjectCode) FlashBlock(addr, n int) []byte {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		var w uint32 = gotoZero
		if a := addr + i; a >= 0 && a < len(oc) {
			w = oc[a].Binary()
		}
		binary.LittleEndian.PutUint32(buf[i*4:], swapHalves(w))
	}
	return buf
}

// ReadbackBlock returns up to n instructions worth of wire bytes starting
// at addr, truncated to however many real instructions remain and
// terminated with the 0xFFFF end marker, matching the READBACK response
// framing.
func (oc ObjectCode) ReadbackBlock(addr, n int) []byte {
	if addr >= len(oc) {
		return []byte{0xFF, 0xFF}
	}
	avail := len(oc) - addr
	if avail > n {
		avail = n
	}
	buf := make([]byte, 4*avail+2)
	for i := 0; i < avail; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], swapHalves(oc[addr+i].Binary()))
	}
	buf[4*avail] = 0xFF
	buf[4*avail+1] = 0xFF
	return buf
}
