package chat

// Target is where a message goes: a DirectTarget or a GroupTarget, never both
type Target interface {
	target()
}

// DirectTarget addresses a single user
type DirectTarget struct {
	RecipientID int64
}

// GroupTarget addresses every member of a group except the sender
type GroupTarget struct {
	GroupID int64
}

func (DirectTarget) target() {}
func (GroupTarget) target()  {}

// ParseTarget turns the optional wire fields into a Target
func ParseTarget(receiverID, groupID *int64) (Target, error) {
	switch {
	case receiverID != nil && groupID == nil:
		if *receiverID <= 0 {
			return nil, ErrInvalidTarget
		}
		return DirectTarget{RecipientID: *receiverID}, nil
	case groupID != nil && receiverID == nil:
		if *groupID <= 0 {
			return nil, ErrInvalidTarget
		}
		return GroupTarget{GroupID: *groupID}, nil
	default:
		return nil, ErrInvalidTarget
	}
}
