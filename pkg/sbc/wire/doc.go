// Package wire defines the byte layout exchanged between the firmware and
// the single-board computer.
package wire

// All multi-byte fields are little-endian. Every fixed header is a whole
// number of 32-bit words and carries its padding as explicit fields, which
// are transmitted as zero and ignored on receipt.
//
// Producer: firmware and host alike
// Consumer: codec, msgs
