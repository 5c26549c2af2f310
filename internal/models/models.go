package models

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSenderName is shown when a sender has no email on file
	DefaultSenderName = "User"
	// PlaceholderAvatar is shown when a sender has no profile image
	PlaceholderAvatar = "/placeholder.svg"
)

// SystemUserID is the reserved sender id of bot messages
var SystemUserID = uuid.Nil.String()

// User represents an authenticated identity
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile holds the mutable per-user attributes
type Profile struct {
	ID           int64       `json:"id"`
	UserID       string      `json:"user_id"`
	Email        *string     `json:"email"`
	Bio          *string     `json:"bio"`
	FullName     *string     `json:"full_name"`
	Interests    []string    `json:"interests"`
	Describe     []string    `json:"describe"`
	ImageURL     *string     `json:"image_url"`
	IsOnboarded  bool        `json:"is_onboarded"`
	TraitsVector TraitVector `json:"traits_vector"`

	DisplayImageURL string `json:"displayImageUrl,omitempty"`
}

// ProfileSummary is the subset of a profile needed to render a sender or member
type ProfileSummary struct {
	UserID   string  `json:"user_id"`
	Email    *string `json:"email"`
	ImageURL *string `json:"image_url"`
}

// ProfilePatch is a merge-patch: nil fields are left unchanged
type ProfilePatch struct {
	Bio          *string      `json:"bio,omitempty" validate:"omitempty,max=500"`
	FullName     *string      `json:"full_name,omitempty" validate:"omitempty,max=100"`
	Interests    *[]string    `json:"interests,omitempty" validate:"omitempty,max=20,dive,max=50"`
	Describe     *[]string    `json:"describe,omitempty" validate:"omitempty,max=20,dive,max=50"`
	ImageURL     *string      `json:"image_url,omitempty"`
	IsOnboarded  *bool        `json:"is_onboarded,omitempty"`
	TraitsVector *TraitVector `json:"traits_vector,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *ProfilePatch) IsEmpty() bool {
	return p.Bio == nil && p.FullName == nil && p.Interests == nil && p.Describe == nil &&
		p.ImageURL == nil && p.IsOnboarded == nil && p.TraitsVector == nil
}

// Question is a weekly prompt
type Question struct {
	ID        int64      `json:"id"`
	Question  string     `json:"question"`
	Theme     *string    `json:"theme"`
	CreatedAt *time.Time `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	IsExpired bool       `json:"is_expired"`
}

// Answer is a user's response to a question, unique per (question, user)
type Answer struct {
	ID         int64      `json:"id"`
	QuestionID int64      `json:"question_id"`
	UserID     string     `json:"user_id"`
	Answer     string     `json:"answer"`
	CreatedAt  *time.Time `json:"created_at"`
}

// Group is a time-boxed chat group
type Group struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   *string    `json:"created_by"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Welcomed    bool       `json:"welcomed"`
}

// IsArchived reports whether the group has expired at the given instant.
// A group without an expiry never archives.
func (g *Group) IsArchived(now time.Time) bool {
	if g.ExpiresAt == nil {
		return false
	}
	return !g.ExpiresAt.After(now)
}

// GroupMember links a user to a group
type GroupMember struct {
	ID       int64      `json:"id"`
	GroupID  int64      `json:"group_id"`
	UserID   *string    `json:"user_id"`
	JoinedAt *time.Time `json:"joined_at"`
}

// Message is an append-only chat message
type Message struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"group_id"`
	UserID    *string   `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FormattedMessage is the display-ready form of a Message
type FormattedMessage struct {
	ID           int64     `json:"id"`
	SenderID     *string   `json:"senderId"`
	SenderName   string    `json:"senderName"`
	SenderAvatar string    `json:"senderAvatar"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}

// MemberView is a group member rendered for a group list
type MemberView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// GroupSummary is a group enriched with members and activity
type GroupSummary struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Description  *string      `json:"description"`
	Members      []MemberView `json:"members"`
	MessageCount int64        `json:"messageCount"`
	LastActive   *time.Time   `json:"lastActive"`
	ExpiresAt    *time.Time   `json:"expires_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsArchived applies the same expiry rule as Group.IsArchived
func (g *GroupSummary) IsArchived(now time.Time) bool {
	return (&Group{ExpiresAt: g.ExpiresAt}).IsArchived(now)
}

// GroupLists partitions a user's groups
type GroupLists struct {
	Active   []GroupSummary `json:"active"`
	Archived []GroupSummary `json:"archived"`
}

// MemberDetail is a group member with its profile, if any
type MemberDetail struct {
	ID      int64           `json:"id"`
	UserID  *string         `json:"user_id"`
	Profile *ProfileSummary `json:"profiles,omitempty"`
	Online  bool            `json:"online"`
}

// GroupDetail is a single group with its members
type GroupDetail struct {
	Group        *Group         `json:"group"`
	Members      []MemberDetail `json:"members"`
	MessageCount int64          `json:"messageCount"`
}

// QuestionView is a question combined with the user's answer
type QuestionView struct {
	ID        int64      `json:"id"`
	Question  string     `json:"question"`
	CreatedAt *time.Time `json:"created_at"`
	Theme     *string    `json:"theme,omitempty"`
	Answered  bool       `json:"answered"`
	Answer    *string    `json:"answer,omitempty"`
}

// QuestionSet is the weekly question view for one user
type QuestionSet struct {
	Questions  []QuestionView `json:"questions"`
	Theme      string         `json:"theme"`
	ExpiryDate *time.Time     `json:"expiryDate"`
	TimeLeft   string         `json:"timeLeft"`
	IsExpired  bool           `json:"isExpired"`
	Progress   float64        `json:"progress"`
}

// DisplayImageURL turns a stored image reference into something an <img>
// can load. Legacy rows hold a data URL hex-encoded as bytea (\x prefix).
func DisplayImageURL(stored *string) string {
	if stored == nil || *stored == "" {
		return ""
	}
	v := *stored
	if strings.HasPrefix(v, "\\x") {
		decoded, err := hex.DecodeString(v[2:])
		if err != nil {
			return ""
		}
		v = string(decoded)
	}
	if strings.HasPrefix(v, "data:image") || strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return v
	}
	return ""
}

// DisplayName derives a display name from the local part of an email
func DisplayName(email *string) string {
	if email == nil {
		return DefaultSenderName
	}
	local, _, _ := strings.Cut(*email, "@")
	if local == "" {
		return DefaultSenderName
	}
	return local
}

// Avatar returns the image url or the placeholder
func Avatar(imageURL *string) string {
	if imageURL == nil || *imageURL == "" {
		return PlaceholderAvatar
	}
	return *imageURL
}
