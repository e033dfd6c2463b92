// Package msgs provides the typed messages carried in packets.
package msgs

// Messages are split by direction into two closed sets, HostMessage and
// FirmwareMessage, so a packet kind is unambiguous once the direction is
// known. Resend requests are handled by the transport and never reach
// this package.
//
// Producer: firmware (FirmwareMessage), host (HostMessage)
// Consumer: dispatch
