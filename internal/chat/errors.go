package chat

import "errors"

// Validation failures, rejected before anything is persisted
var (
	ErrEmptyBody        = errors.New("message must not be empty")
	ErrBodyTooLong      = errors.New("message is too long")
	ErrInvalidTarget    = errors.New("exactly one of receiverId or groupId is required")
	ErrInvalidGroupName = errors.New("group name is required")
	ErrGroupEmpty       = errors.New("group has no members")
	ErrNotGroupMember   = errors.New("not a member of the group")
	ErrForbidden        = errors.New("operation not allowed")
	ErrGroupNameTaken   = errors.New("group name already taken")
)

// Lookup failures
var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrGroupNotFound     = errors.New("group not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrMessageNotFound   = errors.New("message not found")
)
