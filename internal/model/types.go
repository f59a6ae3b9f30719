package model

import (
	"time"
)

// Role names carried in access tokens
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a user in the system
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	Verified     bool
	CreatedAt    time.Time
}

// CanAuthenticate reports whether the account may log in.
func (u User) CanAuthenticate() bool {
	return u.Active && u.Verified
}

// RefreshSession is the single server-side record of a user's refresh token.
// Only a salted hash of the token is stored.
type RefreshSession struct {
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserToken is a one-shot token (email verification or password reset) stored as a hash
type UserToken struct {
	UserID    int64
	Purpose   TokenPurpose
	TokenHash string
	ExpiresAt time.Time
}

// TokenPurpose distinguishes verification and reset tokens
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify_email"
	PurposeResetPassword TokenPurpose = "reset_password"
)

// MessageStatus is the delivery state of a message
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Message is a persisted chat message. Exactly one of RecipientID and GroupID is set.
type Message struct {
	ID          int64
	SenderID    int64
	RecipientID *int64
	GroupID     *int64
	Body        string
	Status      MessageStatus
	CreatedAt   time.Time
}

// IsGroup reports whether the message was sent to a group
func (m Message) IsGroup() bool {
	return m.GroupID != nil
}

// Group is a named set of members
type Group struct {
	ID        int64
	Name      string
	MemberIDs []int64
	CreatedAt time.Time
}

// HasMember reports whether userID belongs to the group
func (g Group) HasMember(userID int64) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HistoryQuery pages through a conversation, newest first
type HistoryQuery struct {
	Limit  int
	Before *time.Time
}
