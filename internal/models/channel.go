package models

import (
	"fmt"
	"strings"
)

// Channel identifies a message transport category.
type Channel string

// Supported channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// Channels lists every supported channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelChat}
}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

func (c Channel) String() string { return string(c) }

// ParseChannel normalises and validates a channel name. "whatsapp" is
// accepted as an alias of the chat channel.
func ParseChannel(value string) (Channel, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "whatsapp" {
		v = string(ChannelChat)
	}
	c := Channel(v)
	if !c.Valid() {
		return "", fmt.Errorf("unsupported channel %q", value)
	}
	return c, nil
}
