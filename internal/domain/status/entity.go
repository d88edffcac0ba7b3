package status

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultLifetime is how long a status stays visible after creation.
const DefaultLifetime = 24 * time.Hour

// MaxEmojiLength bounds composite emoji sequences (flags, families).
const MaxEmojiLength = 32

type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityContacts Visibility = "contacts"
	VisibilityPrivate  Visibility = "private"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityEveryone, VisibilityContacts, VisibilityPrivate:
		return true
	}
	return false
}

// Source selects which distribution channel a feed is built for.
type Source string

const (
	SourceAll       Source = "all"
	SourceMessaging Source = "messaging"
	SourceSocial    Source = "social"
)

func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case "", SourceAll:
		return SourceAll, nil
	case SourceMessaging:
		return SourceMessaging, nil
	case SourceSocial:
		return SourceSocial, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// ImageList is stored as a jsonb array of image references.
type ImageList []string

// Status represents the estados table
type Status struct {
	ID               uuid.UUID  `json:"id"`
	AuthorID         uuid.UUID  `json:"author_id"`
	Text             *string    `json:"text,omitempty"`
	ImageURLs        ImageList  `json:"image_urls" gorm:"type:jsonb;serializer:json"`
	Visibility       Visibility `json:"visibility"`
	ShareToMessaging bool       `json:"share_to_messaging"`
	ShareToSocial    bool       `json:"share_to_social"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	IsActive         bool       `json:"is_active"`
}

// IsVisibleAt reports whether the status is eligible for display at now.
// Both conditions are required; an expired row is hidden even if still active.
func (s Status) IsVisibleAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// MatchesSource reports whether the status was shared to the given channel.
func (s Status) MatchesSource(src Source) bool {
	switch src {
	case SourceMessaging:
		return s.ShareToMessaging
	case SourceSocial:
		return s.ShareToSocial
	default:
		return true
	}
}

// Profile is the author snapshot attached to a group.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"-"`
}

// ProfileContact represents profile_contacts: Owner lists Contact as a contact.
type ProfileContact struct {
	OwnerID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ContactID uuid.UUID `gorm:"type:uuid;primaryKey"`
}

// ViewRecord represents estado_views. Insert-once per (EstadoID, ViewerID).
type ViewRecord struct {
	ID       uuid.UUID `json:"id"`
	EstadoID uuid.UUID `json:"estado_id"`
	ViewerID uuid.UUID `json:"viewer_id"`
	ViewedAt time.Time `json:"viewed_at"`
}

// ReactionRecord represents estado_reactions. At most one per (EstadoID, ViewerID).
type ReactionRecord struct {
	ID         uuid.UUID `json:"id"`
	EstadoID   uuid.UUID `json:"estado_id"`
	ViewerID   uuid.UUID `json:"viewer_id"`
	Emoji      string    `json:"emoji"`
	CreatedAt  time.Time `json:"created_at"`
	ViewerName string    `json:"viewer_name,omitempty" gorm:"->;-:migration"`
}

func (Status) TableName() string {
	return "estados"
}

func (Profile) TableName() string {
	return "profiles"
}

func (ProfileContact) TableName() string {
	return "profile_contacts"
}

func (ViewRecord) TableName() string {
	return "estado_views"
}

func (ReactionRecord) TableName() string {
	return "estado_reactions"
}

// BeforeCreate fills ids the caller did not set.
func (s *Status) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (v *ViewRecord) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

func (r *ReactionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ValidateEmoji rejects empty or oversized emoji strings.
func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("emoji is required")
	}
	if utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return fmt.Errorf("emoji too long")
	}
	return nil
}

// Validate checks a row received from the store before it is trusted.
func (s Status) Validate() error {
	if s.ID == uuid.Nil {
		return fmt.Errorf("status: missing id")
	}
	if s.AuthorID == uuid.Nil {
		return fmt.Errorf("status %s: missing author", s.ID)
	}
	if !s.Visibility.Valid() {
		return fmt.Errorf("status %s: unknown visibility %q", s.ID, s.Visibility)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return fmt.Errorf("status %s: expires before it was created", s.ID)
	}
	return nil
}

func (v ViewRecord) Validate() error {
	if v.EstadoID == uuid.Nil || v.ViewerID == uuid.Nil {
		return fmt.Errorf("view record: missing estado or viewer id")
	}
	return nil
}

func (r ReactionRecord) Validate() error {
	if r.EstadoID == uuid.Nil || r.ViewerID == uuid.Nil {
		return fmt.Errorf("reaction record: missing estado or viewer id")
	}
	return ValidateEmoji(r.Emoji)
}

// ParseStatus decodes a change-feed row payload into a validated Status.
func ParseStatus(raw json.RawMessage) (Status, error) {
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return Status{}, fmt.Errorf("decode status row: %w", err)
	}
	return s, s.Validate()
}

// ParseViewRecord decodes a change-feed row payload into a validated ViewRecord.
func ParseViewRecord(raw json.RawMessage) (ViewRecord, error) {
	var v ViewRecord
	if err := json.Unmarshal(raw, &v); err != nil {
		return ViewRecord{}, fmt.Errorf("decode view row: %w", err)
	}
	return v, v.Validate()
}

// ParseReactionRecord decodes a change-feed row payload into a validated ReactionRecord.
func ParseReactionRecord(raw json.RawMessage) (ReactionRecord, error) {
	var r ReactionRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return ReactionRecord{}, fmt.Errorf("decode reaction row: %w", err)
	}
	return r, r.Validate()
}
