package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

const maxGroupNameLength = 100

// CreateGroup creates a named group. The creator is always a member; unknown member ids are dropped.
func (d *Dispatcher) CreateGroup(ctx context.Context, creatorID int64, name string, memberIDs []int64) (model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGroupNameLength {
		return model.Group{}, ErrInvalidGroupName
	}

	ids := make([]int64, 0, len(memberIDs)+1)
	ids = append(ids, creatorID)
	for _, id := range memberIDs {
		if id > 0 && id != creatorID {
			ids = append(ids, id)
		}
	}

	group, err := d.groups.Create(ctx, name, ids)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return model.Group{}, ErrGroupNameTaken
		}
		return model.Group{}, fmt.Errorf("create group: %w", err)
	}
	d.log.Infow("group created", "group_id", group.ID, "creator_id", creatorID, "members", len(group.MemberIDs))
	return group, nil
}

// AddMember adds userID to a group. The actor must already be a member, or an admin.
func (d *Dispatcher) AddMember(ctx context.Context, actorID int64, actorRole string, groupID, userID int64) (model.Group, error) {
	group, err := d.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Group{}, ErrGroupNotFound
		}
		return model.Group{}, fmt.Errorf("load group: %w", err)
	}
	if actorRole != model.RoleAdmin && !group.HasMember(actorID) {
		return model.Group{}, ErrForbidden
	}
	if group.HasMember(userID) {
		return group, nil
	}
	if _, err := d.loadUser(ctx, userID, ErrUserNotFound); err != nil {
		return model.Group{}, err
	}

	if err := d.groups.AddMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Group{}, ErrUserNotFound
		}
		return model.Group{}, fmt.Errorf("add group member: %w", err)
	}
	group.MemberIDs = append(group.MemberIDs, userID)
	return group, nil
}
