package wire

import (
	"fmt"
	"strings"
)

// Channel is a logical execution context codes and locks are scoped to.
type Channel uint8

// Channels.
const (
	ChannelHTTP      Channel = 0
	ChannelTelnet    Channel = 1
	ChannelFile      Channel = 2
	ChannelSerial    Channel = 3
	ChannelAux       Channel = 4
	ChannelDaemon    Channel = 5
	ChannelQueue     Channel = 6
	ChannelLCD       Channel = 7
	ChannelSPI       Channel = 8
	ChannelAutoPause Channel = 9

	// NumChannels is the size of the closed channel set.
	NumChannels = 10
)

var channelNames = [NumChannels]string{
	"http", "telnet", "file", "serial", "aux",
	"daemon", "queue", "lcd", "spi", "autoPause",
}

// Channels lists every channel in index order.
func Channels() []Channel {
	chs := make([]Channel, NumChannels)
	for n := range chs {
		chs[n] = Channel(n)
	}
	return chs
}

// IsValid checks the channel is in the closed set.
func (c Channel) IsValid() bool {
	return c < NumChannels
}

func (c Channel) String() string {
	if c.IsValid() {
		return channelNames[c]
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

// ParseChannel looks up a channel by name, case-insensitively.
func ParseChannel(name string) (Channel, error) {
	for n, s := range channelNames {
		if strings.EqualFold(s, name) {
			return Channel(n), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

// MessageType is the destination and severity of a code reply.
// The low bits select destination channels, one bit per Channel.
type MessageType uint32

// Message type flags.
const (
	// PushFlag marks output that is continued by the next reply.
	PushFlag           MessageType = 1 << 24
	ErrorMessageFlag   MessageType = 1 << 25
	WarningMessageFlag MessageType = 1 << 26
	LogMessageFlag     MessageType = 1 << 27

	destinationMask MessageType = 1<<NumChannels - 1
)

// DestinationOf returns the message type addressing a single channel.
func DestinationOf(ch Channel) MessageType {
	return MessageType(1) << ch
}

// Channels lists the destination channels.
func (t MessageType) Channels() (chs []Channel) {
	for n := Channel(0); n < NumChannels; n++ {
		if t&DestinationOf(n) != 0 {
			chs = append(chs, n)
		}
	}
	return
}

// Destinations strips the flags.
func (t MessageType) Destinations() MessageType {
	return t & destinationMask
}

// IsPush tells whether more output follows.
func (t MessageType) IsPush() bool {
	return t&PushFlag != 0
}

// IsError tells whether the reply reports an error.
func (t MessageType) IsError() bool {
	return t&ErrorMessageFlag != 0
}

// IsWarning tells whether the reply reports a warning.
func (t MessageType) IsWarning() bool {
	return t&WarningMessageFlag != 0
}
