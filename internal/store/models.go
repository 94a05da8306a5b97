// Package store is C2: the transactional persistence model and repository
// invariants for users, events, subscriptions, selectors, reminders,
// integrations and tokens (spec.md §3, §4.2).
package store

import "time"

type User struct {
	ID           int64
	Email        string // unique, case-insensitive
	DisplayName  string
	PasswordHash *string
	IsVerified   bool
	CreatedAt    time.Time

	// Integrations is eagerly loaded by SubscriptionRepo.ByEvent (a non-nil,
	// possibly empty slice signals "loaded"); nil otherwise.
	Integrations []Integration
}

type Event struct {
	ID               int64
	Name             string
	Description      *string
	StartDate        time.Time
	EndDate          *time.Time
	Timezone         string
	Location         *string
	IsPublic         bool
	OrganizerUserID  int64
	WorkflowID       string // unique
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type IntegrationType string

const (
	IntegrationGotify  IntegrationType = "gotify"
	IntegrationEmail   IntegrationType = "email"
	IntegrationNtfy    IntegrationType = "ntfy"
	IntegrationDiscord IntegrationType = "discord"
	IntegrationSlack   IntegrationType = "slack"
)

// Integration holds a user's delivery channel. DeliveryURLCipher and
// ConfigCipher are ciphertext at rest (spec.md "Encryption invariant");
// plaintext only exists transiently inside internal/crypto callers.
type Integration struct {
	ID                int64
	UserID            int64
	Name              string
	Tag               string // always lowercased
	IsActive          bool
	Type              IntegrationType
	DeliveryURLCipher []byte
	ConfigCipher      []byte
	CreatedAt         time.Time
}

type Subscription struct {
	ID        int64
	EventID   int64
	UserID    int64
	CreatedAt time.Time

	// Eagerly loaded by repository methods that need them; nil otherwise.
	Selectors []SubscriptionSelector
	Reminders []SubscriptionReminder
	User      *User
}

// SubscriptionSelector carries exactly one of {IntegrationID, Tag}
// (spec.md invariant #4).
type SubscriptionSelector struct {
	ID             int64
	SubscriptionID int64
	IntegrationID  *int64
	Tag            *string
}

type SubscriptionReminder struct {
	ID             int64
	SubscriptionID int64
	OffsetSeconds  int64
}

type UnsubscribeToken struct {
	Token          string
	SubscriptionID int64
	CreatedAt      time.Time
	UsedAt         *time.Time
	ExpiresAt      time.Time
}

func (t UnsubscribeToken) Valid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

type EventInvitation struct {
	ID              int64
	Token           string
	EventID         int64
	Email           string
	InvitedByUserID int64
	ExpiresAt       time.Time
	UsedAt          *time.Time
}

func (i EventInvitation) Valid(now time.Time) bool {
	return i.UsedAt == nil && now.Before(i.ExpiresAt)
}

const (
	DefaultUnsubscribeTokenTTL = 60 * 24 * time.Hour
	DefaultInvitationTTL       = 7 * 24 * time.Hour
)
