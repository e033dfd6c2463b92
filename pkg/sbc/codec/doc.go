// Package codec serializes Transfers to and from byte buffers.
package codec

// A Transfer is a TransferHeader followed by its packet area. Each packet
// is a PacketHeader followed by its data padded with zeros to 4 bytes.
// The data checksum covers the whole packet area and the header checksum
// covers the header up to the header checksum field.
//
// Encode and Decode keep no state and may be used concurrently.
