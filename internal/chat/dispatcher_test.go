package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/hub"
	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo/memory"
)

type recordingConn struct {
	id     uuid.UUID
	userID int64

	mu     sync.Mutex
	events []hub.Event
	err    error
}

func newRecordingConn(userID int64) *recordingConn {
	return &recordingConn{id: uuid.New(), userID: userID}
}

func (c *recordingConn) ID() uuid.UUID { return c.id }
func (c *recordingConn) UserID() int64 { return c.userID }

func (c *recordingConn) Send(ev hub.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) received() []hub.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.Event(nil), c.events...)
}

type env struct {
	store    *memory.Store
	registry *hub.Registry
	d        *Dispatcher
}

func newEnv() *env {
	store := memory.NewStore()
	registry := hub.NewRegistry()
	d := NewDispatcher(store.Users(), store.Groups(), store.Messages(), registry, zap.NewNop().Sugar())
	return &env{store: store, registry: registry, d: d}
}

func (e *env) user(t *testing.T, name string) model.User {
	t.Helper()
	u, err := e.store.Users().Create(context.Background(), model.User{
		Username: name,
		Email:    name + "@example.com",
		Role:     model.RoleUser,
		Active:   true,
		Verified: true,
	})
	require.NoError(t, err)
	return u
}

func (e *env) connect(userID int64) *recordingConn {
	c := newRecordingConn(userID)
	e.registry.Register(c)
	return c
}

func (e *env) stored(t *testing.T, id int64) model.Message {
	t.Helper()
	msg, err := e.store.Messages().GetByID(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func TestSendDirect_onlineRecipient(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sender := e.user(t, "alice")
	recipient := e.user(t, "bob")
	inbox := e.connect(recipient.ID)

	msg, err := e.d.Send(ctx, sender.ID, DirectTarget{RecipientID: recipient.ID}, "hi")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
	assert.Equal(t, model.StatusDelivered, e.stored(t, msg.ID).Status)

	events := inbox.received()
	require.Len(t, events, 1)
	assert.Equal(t, hub.EventNewMessage, events[0].Name)
	payload, ok := events[0].Data.(MessagePayload)
	require.True(t, ok)
	assert.Equal(t, msg.ID, payload.ID)
	assert.Equal(t, sender.ID, payload.SenderID)
	assert.Equal(t, "alice", payload.SenderName)
	assert.Equal(t, "hi", payload.Message)
	require.NotNil(t, payload.ReceiverID)
	assert.Equal(t, recipient.ID, *payload.ReceiverID)
	assert.Nil(t, payload.GroupID)
}

func TestSendDirect_offlineRecipientIsPersistedAsSent(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sender := e.user(t, "alice")
	recipient := e.user(t, "bob")

	msg, err := e.d.SendDirect(ctx, sender.ID, recipient.ID, "later")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, model.StatusSent, e.stored(t, msg.ID).Status)
	assert.Equal(t, 1, e.store.Messages().Len())
}

func TestSendDirect_failedPushKeepsSent(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sender := e.user(t, "alice")
	recipient := e.user(t, "bob")
	inbox := e.connect(recipient.ID)
	inbox.err = hub.ErrSendBufferFull

	msg, err := e.d.SendDirect(ctx, sender.ID, recipient.ID, "dropped")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, e.stored(t, msg.ID).Status)
}

func TestSendDirect_selfSendIsDelivered(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")
	own := e.connect(alice.ID)

	msg, err := e.d.SendDirect(ctx, alice.ID, alice.ID, "note to self")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
	assert.Len(t, own.received(), 1)
}

func TestSendDirect_rejectedBeforePersistence(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sender := e.user(t, "alice")
	recipient := e.user(t, "bob")

	cases := []struct {
		name        string
		recipientID int64
		body        string
		want        error
	}{
		{"unknown recipient", 9999, "hello", ErrRecipientNotFound},
		{"empty body", recipient.ID, "", ErrEmptyBody},
		{"blank body", recipient.ID, "   \n", ErrEmptyBody},
		{"too long", recipient.ID, strings.Repeat("x", maxBodyLength+1), ErrBodyTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.d.SendDirect(ctx, sender.ID, tc.recipientID, tc.body)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, e.store.Messages().Len())
		})
	}
}

func TestSendDirect_unknownSender(t *testing.T) {
	e := newEnv()
	recipient := e.user(t, "bob")
	_, err := e.d.SendDirect(context.Background(), 9999, recipient.ID, "hi")
	assert.ErrorIs(t, err, ErrSenderNotFound)
	assert.Equal(t, 0, e.store.Messages().Len())
}

func TestSendGroup_fanOut(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	carol := e.user(t, "carol")
	dave := e.user(t, "dave")

	group, err := e.d.CreateGroup(ctx, alice.ID, "team", []int64{bob.ID, carol.ID, dave.ID})
	require.NoError(t, err)

	aliceConn := e.connect(alice.ID)
	bobConn := e.connect(bob.ID)
	carolConn := e.connect(carol.ID)
	carolConn.err = hub.ErrConnClosed
	// dave stays offline

	msg, err := e.d.Send(ctx, alice.ID, GroupTarget{GroupID: group.ID}, "standup")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	require.NotNil(t, msg.GroupID)
	assert.Equal(t, group.ID, *msg.GroupID)
	assert.Nil(t, msg.RecipientID)
	assert.Equal(t, 1, e.store.Messages().Len(), "one row per group message")

	assert.Empty(t, aliceConn.received(), "sender is excluded")
	events := bobConn.received()
	require.Len(t, events, 1)
	assert.Equal(t, hub.EventNewGroupMessage, events[0].Name)
	payload := events[0].Data.(MessagePayload)
	assert.Equal(t, "alice", payload.SenderName)
	require.NotNil(t, payload.GroupID)
	assert.Equal(t, group.ID, *payload.GroupID)
}

func TestSendGroup_failures(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")
	outsider := e.user(t, "mallory")
	group, err := e.d.CreateGroup(ctx, alice.ID, "team", nil)
	require.NoError(t, err)

	_, err = e.d.SendGroup(ctx, alice.ID, 9999, "hello")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = e.d.SendGroup(ctx, outsider.ID, group.ID, "hello")
	assert.ErrorIs(t, err, ErrNotGroupMember)

	_, err = e.d.SendGroup(ctx, alice.ID, group.ID, "")
	assert.ErrorIs(t, err, ErrEmptyBody)

	assert.Equal(t, 0, e.store.Messages().Len())
}

func TestSendGroup_emptyGroup(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")

	// Created straight through the store with no valid members
	group, err := e.store.Groups().Create(ctx, "ghost", []int64{12345})
	require.NoError(t, err)
	require.Empty(t, group.MemberIDs)

	_, err = e.d.SendGroup(ctx, alice.ID, group.ID, "anyone?")
	assert.ErrorIs(t, err, ErrGroupEmpty)
	assert.Equal(t, 0, e.store.Messages().Len())
}

func TestSend_invalidTarget(t *testing.T) {
	e := newEnv()
	_, err := e.d.Send(context.Background(), 1, nil, "hi")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestParseTarget(t *testing.T) {
	id := func(v int64) *int64 { return &v }

	target, err := ParseTarget(id(7), nil)
	require.NoError(t, err)
	assert.Equal(t, DirectTarget{RecipientID: 7}, target)

	target, err = ParseTarget(nil, id(3))
	require.NoError(t, err)
	assert.Equal(t, GroupTarget{GroupID: 3}, target)

	for _, tc := range []struct {
		name            string
		receiver, group *int64
	}{
		{"neither", nil, nil},
		{"both", id(7), id(3)},
		{"zero receiver", id(0), nil},
		{"negative group", nil, id(-1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTarget(tc.receiver, tc.group)
			assert.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")

	msg, err := e.d.SendDirect(ctx, alice.ID, bob.ID, "read me")
	require.NoError(t, err)

	_, err = e.d.MarkRead(ctx, alice.ID, msg.ID)
	assert.ErrorIs(t, err, ErrForbidden, "sender cannot mark read")

	read, err := e.d.MarkRead(ctx, bob.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, read.Status)
	assert.Equal(t, model.StatusRead, e.stored(t, msg.ID).Status)

	_, err = e.d.MarkRead(ctx, bob.ID, 9999)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	carol := e.user(t, "carol")

	for i := 0; i < 3; i++ {
		_, err := e.d.SendDirect(ctx, alice.ID, bob.ID, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
		_, err = e.d.SendDirect(ctx, bob.ID, alice.ID, fmt.Sprintf("b%d", i))
		require.NoError(t, err)
	}
	_, err := e.d.SendDirect(ctx, alice.ID, carol.ID, "elsewhere")
	require.NoError(t, err)

	t.Run("direct newest first", func(t *testing.T) {
		msgs, err := e.d.DirectHistory(ctx, alice.ID, bob.ID, model.HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, msgs, 6)
		assert.Equal(t, "b2", msgs[0].Body)
		assert.Equal(t, "a0", msgs[5].Body)

		limited, err := e.d.DirectHistory(ctx, bob.ID, alice.ID, model.HistoryQuery{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("before cursor", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		msgs, err := e.d.DirectHistory(ctx, alice.ID, bob.ID, model.HistoryQuery{Before: &future})
		require.NoError(t, err)
		assert.Len(t, msgs, 6)

		past := time.Now().Add(-time.Hour)
		msgs, err = e.d.DirectHistory(ctx, alice.ID, bob.ID, model.HistoryQuery{Before: &past})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("unknown peer", func(t *testing.T) {
		_, err := e.d.DirectHistory(ctx, alice.ID, 9999, model.HistoryQuery{})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("group members only", func(t *testing.T) {
		group, err := e.d.CreateGroup(ctx, alice.ID, "pair", []int64{bob.ID})
		require.NoError(t, err)
		_, err = e.d.SendGroup(ctx, bob.ID, group.ID, "hello group")
		require.NoError(t, err)

		msgs, err := e.d.GroupHistory(ctx, alice.ID, group.ID, model.HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello group", msgs[0].Body)

		_, err = e.d.GroupHistory(ctx, carol.ID, group.ID, model.HistoryQuery{})
		assert.ErrorIs(t, err, ErrNotGroupMember)
	})
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	carol := e.user(t, "carol")

	group, err := e.d.CreateGroup(ctx, alice.ID, "  team  ", []int64{bob.ID, bob.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, "team", group.Name)
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID}, group.MemberIDs)

	_, err = e.d.CreateGroup(ctx, bob.ID, "team", nil)
	assert.ErrorIs(t, err, ErrGroupNameTaken)

	_, err = e.d.CreateGroup(ctx, bob.ID, " ", nil)
	assert.ErrorIs(t, err, ErrInvalidGroupName)

	t.Run("outsider cannot add", func(t *testing.T) {
		_, err := e.d.AddMember(ctx, carol.ID, model.RoleUser, group.ID, carol.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("admin can add", func(t *testing.T) {
		updated, err := e.d.AddMember(ctx, carol.ID, model.RoleAdmin, group.ID, carol.ID)
		require.NoError(t, err)
		assert.Contains(t, updated.MemberIDs, carol.ID)
	})

	t.Run("member adding unknown user", func(t *testing.T) {
		_, err := e.d.AddMember(ctx, bob.ID, model.RoleUser, group.ID, 9999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := e.d.AddMember(ctx, bob.ID, model.RoleUser, 9999, carol.ID)
		assert.ErrorIs(t, err, ErrGroupNotFound)
	})
}

func TestSendGroup_concurrentSendsAndReconnects(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	members := make([]model.User, 10)
	ids := make([]int64, 0, len(members))
	for i := range members {
		members[i] = e.user(t, fmt.Sprintf("user%d", i))
		ids = append(ids, members[i].ID)
	}
	group, err := e.d.CreateGroup(ctx, members[0].ID, "crowd", ids)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := e.d.SendGroup(ctx, members[0].ID, group.ID, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			c := newRecordingConn(members[1+i%9].ID)
			e.registry.Register(c)
			e.registry.Unregister(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, e.store.Messages().Len())
}
