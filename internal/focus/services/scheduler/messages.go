package scheduler

import (
	"errors"

	"github.com/haukened/focusflow/internal/focus/domain"
)

// MessageType names a control message.
type MessageType string

const (
	MsgSetExtensionEnabled MessageType = "SET_EXTENSION_ENABLED"
	MsgOpenExtensionPopup  MessageType = "OPEN_EXTENSION_POPUP"
	MsgUnblockSite         MessageType = "UNBLOCK_SITE"
	MsgGetAllRules         MessageType = "GET_ALL_RULES"
	MsgUpdateBlockSchedule MessageType = "UPDATE_BLOCK_SCHEDULE"
	MsgCheckBlockTime      MessageType = "CHECK_BLOCK_TIME"
	MsgBlockSite           MessageType = "BLOCK_SITE"
	MsgSetTimezone         MessageType = "SET_TIMEZONE"
	MsgRecordUsage         MessageType = "RECORD_USAGE"
	MsgGetUsage            MessageType = "GET_USAGE"
)

var knownMessages = map[MessageType]struct{}{
	MsgSetExtensionEnabled: {},
	MsgOpenExtensionPopup:  {},
	MsgUnblockSite:         {},
	MsgGetAllRules:         {},
	MsgUpdateBlockSchedule: {},
	MsgCheckBlockTime:      {},
	MsgBlockSite:           {},
	MsgSetTimezone:         {},
	MsgRecordUsage:         {},
	MsgGetUsage:            {},
}

// IsKnownMessageType reports whether t is a message the scheduler handles.
func IsKnownMessageType(t MessageType) bool {
	_, ok := knownMessages[t]
	return ok
}

var (
	// ErrUnknownMessage is returned for message types outside the protocol.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrInvalidMessage is returned when a message lacks its payload.
	ErrInvalidMessage = errors.New("invalid message payload")
)

// Message is the envelope clients send to the scheduler. Only the payload
// fields relevant to Type are read.
type Message struct {
	Type     MessageType           `json:"type" validate:"required,message_type"`
	Enabled  *bool                 `json:"enabled,omitempty"`
	Domain   string                `json:"domain,omitempty"`
	RuleID   *int                  `json:"ruleId,omitempty" validate:"omitempty,gt=0"`
	Schedule *domain.BlockSchedule `json:"schedule,omitempty"`
	Timezone string                `json:"timezone,omitempty"`
	Seconds  int64                 `json:"seconds,omitempty" validate:"gte=0"`
}

// Response is the scheduler's reply. Ignored is set when the message was
// acknowledged but dropped because blocking is disabled.
type Response struct {
	Ignored     bool                `json:"ignored"`
	Rules       []domain.RuleView   `json:"rules,omitempty"`
	ShouldBlock *bool               `json:"shouldBlock,omitempty"`
	Usage       *domain.UsageReport `json:"usage,omitempty"`
	Total       *int64              `json:"total,omitempty"`
}

// IsInvalidInput reports whether err was caused by the message rather than
// by the scheduler's dependencies.
func IsInvalidInput(err error) bool {
	for _, target := range []error{
		ErrUnknownMessage,
		ErrInvalidMessage,
		ErrInvalidUsage,
		domain.ErrInvalidDomain,
		domain.ErrInvalidTime,
		domain.ErrInvalidTimezone,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
