// internal/models/session.go
package models

// DynamoDB attribute names of a stream session item.
const (
	AttrChannelArn      = "channelArn"
	AttrID              = "id"
	AttrUserSub         = "userSub"
	AttrStartTime       = "startTime"
	AttrEndTime         = "endTime"
	AttrIsOpen          = "isOpen"
	AttrIsHealthy       = "isHealthy"
	AttrHasErrorEvent   = "hasErrorEvent"
	AttrTruncatedEvents = "truncatedEvents"
)

// OpenMarker is the only value isOpen ever holds. A closed session has no
// isOpen attribute at all.
const OpenMarker = "true"

// Event categories (EventBridge detail-type) emitted by IVS.
const (
	CategoryStateChange  = "IVS Stream State Change"
	CategoryHealthChange = "IVS Stream Health Change"
	CategoryLimitBreach  = "IVS Limit Breach"
	CategoryCloudTrail   = "AWS API Call via CloudTrail"
)

// Event names that drive session attributes.
const (
	EventSessionCreated  = "Session Created"
	EventSessionEnded    = "Session Ended"
	EventStarvationStart = "Starvation Start"
	EventStarvationEnd   = "Starvation End"
)

// Event is one entry of a session's log. It is only ever stored embedded in
// a StreamSession.
type Event struct {
	EventTime string `json:"eventTime" dynamodbav:"eventTime"`
	Name      string `json:"name" dynamodbav:"name"`
	Type      string `json:"type" dynamodbav:"type"`
}

// StreamSession is one broadcast session of a channel.
type StreamSession struct {
	ChannelArn      string  `json:"channelArn" dynamodbav:"channelArn"`
	ID              string  `json:"id" dynamodbav:"id"`
	UserSub         string  `json:"userSub,omitempty" dynamodbav:"userSub,omitempty"`
	StartTime       string  `json:"startTime,omitempty" dynamodbav:"startTime,omitempty"`
	EndTime         string  `json:"endTime,omitempty" dynamodbav:"endTime,omitempty"`
	IsOpen          *string `json:"isOpen,omitempty" dynamodbav:"isOpen,omitempty"`
	IsHealthy       bool    `json:"isHealthy" dynamodbav:"isHealthy"`
	HasErrorEvent   bool    `json:"hasErrorEvent" dynamodbav:"hasErrorEvent"`
	TruncatedEvents []Event `json:"truncatedEvents" dynamodbav:"truncatedEvents"`
}

// Open reports whether the session is the channel's live session.
func (s *StreamSession) Open() bool {
	return s.IsOpen != nil && *s.IsOpen == OpenMarker
}

// SessionSummary is the projection returned by the channel/startTime index.
type SessionSummary struct {
	ID        string  `json:"id" dynamodbav:"id"`
	StartTime string  `json:"startTime" dynamodbav:"startTime"`
	IsOpen    *string `json:"isOpen,omitempty" dynamodbav:"isOpen,omitempty"`
}

func (s SessionSummary) Open() bool {
	return s.IsOpen != nil && *s.IsOpen == OpenMarker
}

// ChannelOwner is the channel directory record for a channel.
type ChannelOwner struct {
	ID         string `json:"id" dynamodbav:"id"`
	ChannelArn string `json:"channelArn,omitempty" dynamodbav:"channelArn,omitempty"`
}

// OpenValue returns a fresh pointer to the open marker.
func OpenValue() *string {
	v := OpenMarker
	return &v
}
