// Package ctrl builds and publishes lid control commands for bin devices.
package ctrl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ecotionbuddy/binhub/internal/broker"
)

// Command actions understood by the device firmware.
const (
	ActionActivate   = "activate"
	ActionOpen       = "open"
	ActionDeactivate = "deactivate"
)

// OpenAngle is the lid angle sent with every open command.
const OpenAngle = 180

// Command is the JSON payload published to a device's control topic.
type Command struct {
	Action      string `json:"action"`
	SessionID   string `json:"sessionId,omitempty"`
	BinID       string `json:"binId,omitempty"`
	CountdownMs int    `json:"countdownMs,omitempty"`
	Angle       int    `json:"angle,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type activatePayload struct {
	Action      string `json:"action"`
	SessionID   string `json:"sessionId"`
	BinID       string `json:"binId"`
	CountdownMs int    `json:"countdownMs"`
}

type openPayload struct {
	Action    string `json:"action"`
	Angle     int    `json:"angle"`
	Reason    string `json:"reason"`
	BinID     string `json:"binId"`
	SessionID string `json:"sessionId,omitempty"`
}

type deactivatePayload struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// MarshalJSON writes the key set the firmware expects for each action.
// Every key is present even when empty, except sessionId on open.
func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Action {
	case ActionActivate:
		return json.Marshal(activatePayload{c.Action, c.SessionID, c.BinID, c.CountdownMs})
	case ActionOpen:
		return json.Marshal(openPayload{c.Action, c.Angle, c.Reason, c.BinID, c.SessionID})
	case ActionDeactivate:
		return json.Marshal(deactivatePayload{c.Action, c.SessionID})
	}
	type plain Command
	return json.Marshal(plain(c))
}

// Activate is sent when a session starts.
func Activate(sessionID, binID string, countdownMs int) Command {
	return Command{Action: ActionActivate, SessionID: sessionID, BinID: binID, CountdownMs: countdownMs}
}

// Open is sent after an upload has been classified.
func Open(binID, sessionID string) Command {
	return Command{Action: ActionOpen, Angle: OpenAngle, Reason: "classification", BinID: binID, SessionID: sessionID}
}

// Deactivate is sent when a session ends.
func Deactivate(sessionID string) Command {
	return Command{Action: ActionDeactivate, SessionID: sessionID}
}

// Topic returns the control topic for a device.
func Topic(prefix, deviceID string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + deviceID
}

// Publisher sends commands to devices over the broker.
type Publisher struct {
	pub    broker.Publisher
	prefix string
}

// NewPublisher returns a command publisher writing below topic prefix.
func NewPublisher(pub broker.Publisher, prefix string) *Publisher {
	return &Publisher{pub: pub, prefix: prefix}
}

// Send publishes cmd to deviceID's control topic.
func (p *Publisher) Send(ctx context.Context, deviceID string, cmd Command) error {
	if deviceID == "" {
		return fmt.Errorf("ctrl: device id is required")
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("ctrl: marshal %s: %w", cmd.Action, err)
	}
	if err := p.pub.Publish(ctx, Topic(p.prefix, deviceID), payload); err != nil {
		return fmt.Errorf("ctrl: send %s to %s: %w", cmd.Action, deviceID, err)
	}
	return nil
}
