// Package memory provides in-process implementations of the repo interfaces.
// They back the unit tests and DEV_MODE runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

// Store holds all tables behind one lock
type Store struct {
	mu       sync.RWMutex
	users    map[int64]model.User
	tokens   map[string]model.UserToken // key: purpose + ":" + userID
	refresh  map[int64]model.RefreshSession
	groups   map[int64]model.Group
	messages map[int64]model.Message
	nextID   int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:    make(map[int64]model.User),
		tokens:   make(map[string]model.UserToken),
		refresh:  make(map[int64]model.RefreshSession),
		groups:   make(map[int64]model.Group),
		messages: make(map[int64]model.Message),
	}
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

// Users returns the user table
func (s *Store) Users() *Users { return &Users{s: s} }

// Refresh returns the refresh session table
func (s *Store) Refresh() *Refresh { return &Refresh{s: s} }

// Groups returns the group table
func (s *Store) Groups() *Groups { return &Groups{s: s} }

// Messages returns the message table
func (s *Store) Messages() *Messages { return &Messages{s: s} }

var (
	_ repo.UserRepo    = (*Users)(nil)
	_ repo.RefreshRepo = (*Refresh)(nil)
	_ repo.GroupRepo   = (*Groups)(nil)
	_ repo.MessageRepo = (*Messages)(nil)
)

// Users implements repo.UserRepo
type Users struct{ s *Store }

func (u *Users) GetByID(_ context.Context, id int64) (model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	return user, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
}

func (u *Users) Create(_ context.Context, user model.User) (model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if strings.EqualFold(existing.Email, user.Email) || existing.Username == user.Username {
			return model.User{}, fmt.Errorf("user: %w", repo.ErrConflict)
		}
	}
	user.ID = u.s.newID()
	user.CreatedAt = time.Now()
	u.s.users[user.ID] = user
	return user, nil
}

func (u *Users) SetVerified(_ context.Context, id int64) error {
	return u.update(id, func(user *model.User) { user.Verified = true })
}

func (u *Users) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return u.update(id, func(user *model.User) { user.PasswordHash = passwordHash })
}

// SetActive toggles the active flag. Administrative; not part of repo.UserRepo.
func (u *Users) SetActive(id int64, active bool) error {
	return u.update(id, func(user *model.User) { user.Active = active })
}

func (u *Users) update(id int64, fn func(*model.User)) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	fn(&user)
	u.s.users[id] = user
	return nil
}

func tokenKey(purpose model.TokenPurpose, userID int64) string {
	return fmt.Sprintf("%s:%d", purpose, userID)
}

func (u *Users) SaveToken(_ context.Context, token model.UserToken) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	u.s.tokens[tokenKey(token.Purpose, token.UserID)] = token
	return nil
}

func (u *Users) ConsumeToken(_ context.Context, purpose model.TokenPurpose, tokenHash string) (int64, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	now := time.Now()
	for key, token := range u.s.tokens {
		if token.Purpose == purpose && token.TokenHash == tokenHash && token.ExpiresAt.After(now) {
			delete(u.s.tokens, key)
			return token.UserID, nil
		}
	}
	return 0, fmt.Errorf("user token: %w", repo.ErrNotFound)
}

// Refresh implements repo.RefreshRepo
type Refresh struct{ s *Store }

func (r *Refresh) Save(_ context.Context, session model.RefreshSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session.CreatedAt = time.Now()
	r.s.refresh[session.UserID] = session
	return nil
}

func (r *Refresh) Get(_ context.Context, userID int64) (model.RefreshSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	session, ok := r.s.refresh[userID]
	if !ok {
		return model.RefreshSession{}, fmt.Errorf("refresh session: %w", repo.ErrNotFound)
	}
	return session, nil
}

func (r *Refresh) Delete(_ context.Context, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.refresh, userID)
	return nil
}

// Groups implements repo.GroupRepo
type Groups struct{ s *Store }

func (g *Groups) Create(_ context.Context, name string, memberIDs []int64) (model.Group, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	for _, existing := range g.s.groups {
		if existing.Name == name {
			return model.Group{}, fmt.Errorf("group: %w", repo.ErrConflict)
		}
	}
	group := model.Group{ID: g.s.newID(), Name: name, CreatedAt: time.Now()}
	seen := make(map[int64]bool, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := g.s.users[id]; ok && !seen[id] {
			seen[id] = true
			group.MemberIDs = append(group.MemberIDs, id)
		}
	}
	sort.Slice(group.MemberIDs, func(i, j int) bool { return group.MemberIDs[i] < group.MemberIDs[j] })
	g.s.groups[group.ID] = group
	return cloneGroup(group), nil
}

func (g *Groups) GetByID(_ context.Context, id int64) (model.Group, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	group, ok := g.s.groups[id]
	if !ok {
		return model.Group{}, fmt.Errorf("group: %w", repo.ErrNotFound)
	}
	return cloneGroup(group), nil
}

func (g *Groups) AddMember(_ context.Context, groupID, userID int64) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	group, ok := g.s.groups[groupID]
	if !ok {
		return fmt.Errorf("group: %w", repo.ErrNotFound)
	}
	if _, ok := g.s.users[userID]; !ok {
		return fmt.Errorf("group member: %w", repo.ErrNotFound)
	}
	if group.HasMember(userID) {
		return nil
	}
	group.MemberIDs = append(cloneGroup(group).MemberIDs, userID)
	g.s.groups[groupID] = group
	return nil
}

func cloneGroup(group model.Group) model.Group {
	group.MemberIDs = append([]int64(nil), group.MemberIDs...)
	return group
}

// Messages implements repo.MessageRepo
type Messages struct{ s *Store }

func (m *Messages) Create(_ context.Context, msg model.Message) (model.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if msg.Status == "" {
		msg.Status = model.StatusSent
	}
	msg.ID = m.s.newID()
	msg.CreatedAt = time.Now()
	m.s.messages[msg.ID] = msg
	return msg, nil
}

func (m *Messages) GetByID(_ context.Context, id int64) (model.Message, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	msg, ok := m.s.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message: %w", repo.ErrNotFound)
	}
	return msg, nil
}

func (m *Messages) UpdateStatus(_ context.Context, id int64, status model.MessageStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	msg, ok := m.s.messages[id]
	if !ok {
		return fmt.Errorf("message: %w", repo.ErrNotFound)
	}
	msg.Status = status
	m.s.messages[id] = msg
	return nil
}

func (m *Messages) ListDirect(_ context.Context, userA, userB int64, q model.HistoryQuery) ([]model.Message, error) {
	return m.list(q, func(msg model.Message) bool {
		if msg.RecipientID == nil {
			return false
		}
		r := *msg.RecipientID
		return (msg.SenderID == userA && r == userB) || (msg.SenderID == userB && r == userA)
	}), nil
}

func (m *Messages) ListGroup(_ context.Context, groupID int64, q model.HistoryQuery) ([]model.Message, error) {
	return m.list(q, func(msg model.Message) bool {
		return msg.GroupID != nil && *msg.GroupID == groupID
	}), nil
}

// Len returns the number of stored messages
func (m *Messages) Len() int {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return len(m.s.messages)
}

func (m *Messages) list(q model.HistoryQuery, match func(model.Message) bool) []model.Message {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.Message, 0)
	for _, msg := range m.s.messages {
		if !match(msg) {
			continue
		}
		if q.Before != nil && !msg.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit := repo.HistoryLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}
