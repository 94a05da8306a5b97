package workflow

import "time"

// SignalName enumerates the signals C9 can deliver to a running instance
// (spec.md §4.8, §6).
type SignalName string

const (
	SignalParticipantAdded SignalName = "participant_added"
	SignalEventUpdated     SignalName = "event_updated"
	SignalCancelEvent      SignalName = "cancel_event"
)

// ParticipantAddedPayload: spec.md §4.8 "Signal participant_added(subscription_id, user_id)".
type ParticipantAddedPayload struct {
	SubscriptionID int64
	UserID         int64
}

// EventUpdatedPayload carries the merged fields (spec.md §4.8 "Signal event_updated(fields)").
type EventUpdatedPayload struct {
	Name        *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
	Location    *string
}

// Signal is one durable input delivered to a workflow instance's mailbox.
type Signal struct {
	Name    SignalName
	Payload any
}
