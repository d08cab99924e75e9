// Package mt provides the ZNP Monitor and Test (MT) frame codec.
package mt

// MT frames are exchanged between the host and a ZNP coprocessor over a
// serial link:
//
//	SOF(0xFE) | LEN | CMD0 | CMD1 | PAYLOAD(LEN) | FCS
//
// CMD0 packs the frame type in its top 3 bits and the subsystem in the low
// 5 bits. FCS is the XOR of every byte from LEN through the last payload byte.
//
// The decoder trusts the length field. A start marker seen mid-frame is
// payload, only a checksum failure (or an impossible header) resynchronizes
// onto the next start marker.
