package relayws

import (
	"encoding/json"
	"fmt"
)

// Client message actions. A payload with no action and a "to" field is a
// direct send, matching the original wire format.
const (
	ActionChannelCreate = "channelCreate"
	ActionChannelJoin   = "channelJoin"
	ActionChannelLeave  = "channelLeave"
	ActionChannelSend   = "sendMessageChannel"
)

// InboundMessage is the decoded client payload, a tagged variant over the
// supported actions.
type InboundMessage struct {
	Action    string `json:"action,omitempty"`
	To        string `json:"to,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// IsDirect reports whether the message is a direct user-to-user send.
func (m *InboundMessage) IsDirect() bool {
	return m.Action == ""
}

// ParseInbound decodes a raw client payload. Per-field validation happens
// per action; only undecodable JSON is an error here.
func ParseInbound(body string) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("invalid message payload: %w", err)
	}
	return &msg, nil
}

// Diagnostic texts sent back to a sender whose routing request could not be
// satisfied. Recipients never see another member's routing failure.
func DiagNoConnection(userID string) []byte {
	return []byte(fmt.Sprintf("No connection found for user %v", userID))
}

func DiagNoRecipient() []byte {
	return []byte("Cannot resolve message recipient")
}

func DiagNoChannel() []byte {
	return []byte("Cannot resolve channel")
}

func DiagEmptyChannel(channelID string) []byte {
	return []byte(fmt.Sprintf("No members in channel %v", channelID))
}

func DiagUnknownAction(action string) []byte {
	return []byte(fmt.Sprintf("Unknown action %v", action))
}

func DiagInvalidPayload() []byte {
	return []byte("Invalid message payload")
}
