package domain

import (
	"fmt"
	"strings"
)

// Channel identifies a delivery medium. The set is closed.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelChat}

// ParseChannel converts a string into a Channel. "slack" is accepted as a
// legacy alias for ChannelChat.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return ChannelEmail, nil
	case "sms":
		return ChannelSMS, nil
	case "chat", "slack":
		return ChannelChat, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

func (c Channel) String() string { return string(c) }
