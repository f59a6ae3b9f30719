package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalix/chatserver/internal/hub"
	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

const (
	maxBodyLength     = 4096
	fanOutConcurrency = 32
)

// Registry is the view of the connection registry the dispatcher needs
type Registry interface {
	Lookup(userID int64) (hub.Conn, bool)
	Snapshot(userIDs []int64) map[int64]hub.Conn
}

// MessagePayload is pushed to recipients in newMessage and newGroupMessage events
type MessagePayload struct {
	ID         int64               `json:"id"`
	SenderID   int64               `json:"senderId"`
	SenderName string              `json:"senderName"`
	Message    string              `json:"message"`
	ReceiverID *int64              `json:"receiverId,omitempty"`
	GroupID    *int64              `json:"groupId,omitempty"`
	Status     model.MessageStatus `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// NewMessagePayload renders a stored message for the wire
func NewMessagePayload(msg model.Message, senderName string) MessagePayload {
	return MessagePayload{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: senderName,
		Message:    msg.Body,
		ReceiverID: msg.RecipientID,
		GroupID:    msg.GroupID,
		Status:     msg.Status,
		CreatedAt:  msg.CreatedAt,
	}
}

// Dispatcher validates, persists and routes messages. Persistence always happens before
// any delivery attempt, and a failed push never fails the send.
type Dispatcher struct {
	users    repo.UserRepo
	groups   repo.GroupRepo
	messages repo.MessageRepo
	registry Registry
	log      *zap.SugaredLogger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(users repo.UserRepo, groups repo.GroupRepo, messages repo.MessageRepo, registry Registry, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		users:    users,
		groups:   groups,
		messages: messages,
		registry: registry,
		log:      log,
	}
}

// Send routes body to target on behalf of senderID
func (d *Dispatcher) Send(ctx context.Context, senderID int64, target Target, body string) (model.Message, error) {
	switch t := target.(type) {
	case DirectTarget:
		return d.SendDirect(ctx, senderID, t.RecipientID, body)
	case GroupTarget:
		return d.SendGroup(ctx, senderID, t.GroupID, body)
	default:
		return model.Message{}, ErrInvalidTarget
	}
}

// SendDirect persists a direct message and pushes it if the recipient is online.
// Status is delivered iff the push was accepted by the recipient's connection.
// Sending to oneself is allowed and is delivered to the sender's own connection.
func (d *Dispatcher) SendDirect(ctx context.Context, senderID, recipientID int64, body string) (model.Message, error) {
	if err := validateBody(body); err != nil {
		return model.Message{}, err
	}
	if _, err := d.loadUser(ctx, recipientID, ErrRecipientNotFound); err != nil {
		return model.Message{}, err
	}
	sender, err := d.loadUser(ctx, senderID, ErrSenderNotFound)
	if err != nil {
		return model.Message{}, err
	}

	msg, err := d.messages.Create(ctx, model.Message{
		SenderID:    senderID,
		RecipientID: &recipientID,
		Body:        body,
		Status:      model.StatusSent,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("persist message: %w", err)
	}

	conn, online := d.registry.Lookup(recipientID)
	if !online {
		return msg, nil
	}

	ev := hub.Event{Name: hub.EventNewMessage, Data: NewMessagePayload(msg, sender.Username)}
	if err := conn.Send(ev); err != nil {
		d.log.Debugw("direct push failed", "message_id", msg.ID, "recipient_id", recipientID, "error", err)
		return msg, nil
	}

	if err := d.messages.UpdateStatus(ctx, msg.ID, model.StatusDelivered); err != nil {
		d.log.Errorw("mark message delivered", "message_id", msg.ID, "error", err)
		return msg, nil
	}
	msg.Status = model.StatusDelivered
	return msg, nil
}

// SendGroup persists one message for the group and pushes it to every online member except
// the sender. Reachability comes from a single registry snapshot; offline members are skipped.
func (d *Dispatcher) SendGroup(ctx context.Context, senderID, groupID int64, body string) (model.Message, error) {
	if err := validateBody(body); err != nil {
		return model.Message{}, err
	}

	group, err := d.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Message{}, ErrGroupNotFound
		}
		return model.Message{}, fmt.Errorf("load group: %w", err)
	}
	if len(group.MemberIDs) == 0 {
		return model.Message{}, ErrGroupEmpty
	}
	if !group.HasMember(senderID) {
		return model.Message{}, ErrNotGroupMember
	}
	sender, err := d.loadUser(ctx, senderID, ErrSenderNotFound)
	if err != nil {
		return model.Message{}, err
	}

	msg, err := d.messages.Create(ctx, model.Message{
		SenderID: senderID,
		GroupID:  &groupID,
		Body:     body,
		Status:   model.StatusSent,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("persist group message: %w", err)
	}

	targets := make([]int64, 0, len(group.MemberIDs))
	for _, id := range group.MemberIDs {
		if id != senderID {
			targets = append(targets, id)
		}
	}
	online := d.registry.Snapshot(targets)

	ev := hub.Event{Name: hub.EventNewGroupMessage, Data: NewMessagePayload(msg, sender.Username)}
	var pushed atomic.Int64
	var g errgroup.Group
	g.SetLimit(fanOutConcurrency)
	for memberID, conn := range online {
		memberID, conn := memberID, conn
		g.Go(func() error {
			if err := conn.Send(ev); err != nil {
				d.log.Debugw("group push failed", "message_id", msg.ID, "member_id", memberID, "error", err)
				return nil
			}
			pushed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	d.log.Debugw("group message dispatched",
		"message_id", msg.ID, "group_id", groupID, "members", len(targets), "online", len(online), "pushed", pushed.Load())
	return msg, nil
}

// MarkRead lets the recipient of a direct message mark it read
func (d *Dispatcher) MarkRead(ctx context.Context, userID, messageID int64) (model.Message, error) {
	msg, err := d.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Message{}, ErrMessageNotFound
		}
		return model.Message{}, fmt.Errorf("load message: %w", err)
	}
	if msg.RecipientID == nil || *msg.RecipientID != userID {
		return model.Message{}, ErrForbidden
	}
	if msg.Status == model.StatusRead {
		return msg, nil
	}
	if err := d.messages.UpdateStatus(ctx, msg.ID, model.StatusRead); err != nil {
		return model.Message{}, fmt.Errorf("mark message read: %w", err)
	}
	msg.Status = model.StatusRead
	return msg, nil
}

// DirectHistory returns the conversation between userID and peerID, newest first
func (d *Dispatcher) DirectHistory(ctx context.Context, userID, peerID int64, q model.HistoryQuery) ([]model.Message, error) {
	if _, err := d.loadUser(ctx, peerID, ErrUserNotFound); err != nil {
		return nil, err
	}
	msgs, err := d.messages.ListDirect(ctx, userID, peerID, q)
	if err != nil {
		return nil, fmt.Errorf("list direct messages: %w", err)
	}
	return msgs, nil
}

// GroupHistory returns a group's messages, newest first. Only members may read them.
func (d *Dispatcher) GroupHistory(ctx context.Context, userID, groupID int64, q model.HistoryQuery) ([]model.Message, error) {
	group, err := d.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}
	if !group.HasMember(userID) {
		return nil, ErrNotGroupMember
	}
	msgs, err := d.messages.ListGroup(ctx, groupID, q)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	return msgs, nil
}

func (d *Dispatcher) loadUser(ctx context.Context, id int64, notFound error) (model.User, error) {
	user, err := d.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, notFound
		}
		return model.User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return user, nil
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > maxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}
