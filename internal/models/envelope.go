// internal/models/envelope.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Envelope is an inbound EventBridge notification. Both the native
// EventBridge spelling (detail-type) and the flattened ingress spelling
// (category) are accepted.
type Envelope struct {
	ID        string   `json:"id,omitempty"`
	Source    string   `json:"source,omitempty"`
	AccountID string   `json:"account,omitempty"`
	Region    string   `json:"region,omitempty"`
	Category  string   `json:"category"`
	Time      string   `json:"time"`
	Resources []string `json:"resources"`
	Detail    Detail   `json:"detail"`
}

// Detail carries the IVS specific part of an envelope.
type Detail struct {
	EventName   string `json:"eventName,omitempty"`
	LimitName   string `json:"limitName,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	ChannelName string `json:"channelName,omitempty"`
}

type envelopeWire struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	AccountID  string          `json:"account"`
	Region     string          `json:"region"`
	DetailType string          `json:"detail-type"`
	Category   string          `json:"category"`
	Time       string          `json:"time"`
	Resources  []string        `json:"resources"`
	Detail     json.RawMessage `json:"detail"`
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Envelope{
		ID:        w.ID,
		Source:    w.Source,
		AccountID: w.AccountID,
		Region:    w.Region,
		Category:  firstNonEmpty(w.DetailType, w.Category),
		Time:      w.Time,
		Resources: w.Resources,
	}

	if len(w.Detail) > 0 && string(w.Detail) != "null" {
		if err := json.Unmarshal(w.Detail, &e.Detail); err != nil {
			return fmt.Errorf("failed to decode detail: %w", err)
		}
	}
	return nil
}

type detailWire struct {
	EventName      string `json:"event_name"`
	EventNameCamel string `json:"eventName"`
	LimitName      string `json:"limit_name"`
	LimitNameCamel string `json:"limitName"`
	StreamID       string `json:"stream_id"`
	SessionID      string `json:"sessionId"`
	ChannelName    string `json:"channel_name"`
	ChannelCamel   string `json:"channelName"`
}

func (d *Detail) UnmarshalJSON(data []byte) error {
	var w detailWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*d = Detail{
		EventName:   firstNonEmpty(w.EventName, w.EventNameCamel),
		LimitName:   firstNonEmpty(w.LimitName, w.LimitNameCamel),
		SessionID:   firstNonEmpty(w.StreamID, w.SessionID),
		ChannelName: firstNonEmpty(w.ChannelName, w.ChannelCamel),
	}
	return nil
}

// ChannelArn is the first resource of the envelope.
func (e *Envelope) ChannelArn() string {
	if len(e.Resources) == 0 {
		return ""
	}
	return strings.TrimSpace(e.Resources[0])
}

// EventName prefers the lifecycle event name and falls back to the limit
// name carried by limit breach events.
func (e *Envelope) EventName() string {
	return firstNonEmpty(e.Detail.EventName, e.Detail.LimitName)
}

// EnvelopeFromCloudWatchEvent converts a Lambda EventBridge payload.
func EnvelopeFromCloudWatchEvent(ev events.CloudWatchEvent) (Envelope, error) {
	env := Envelope{
		ID:        ev.ID,
		Source:    ev.Source,
		AccountID: ev.AccountID,
		Region:    ev.Region,
		Category:  ev.DetailType,
		Resources: ev.Resources,
	}
	if !ev.Time.IsZero() {
		env.Time = ev.Time.UTC().Format(time.RFC3339)
	}
	if len(ev.Detail) > 0 && string(ev.Detail) != "null" {
		if err := json.Unmarshal(ev.Detail, &env.Detail); err != nil {
			return Envelope{}, fmt.Errorf("failed to decode detail: %w", err)
		}
	}
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
