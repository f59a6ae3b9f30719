package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signalix/chatserver/internal/model"
)

// MessageRepo is the durable, append-only message store. Only Status changes after insert.
type MessageRepo interface {
	Create(ctx context.Context, msg model.Message) (model.Message, error)
	GetByID(ctx context.Context, id int64) (model.Message, error)
	UpdateStatus(ctx context.Context, id int64, status model.MessageStatus) error
	ListDirect(ctx context.Context, userA, userB int64, q model.HistoryQuery) ([]model.Message, error)
	ListGroup(ctx context.Context, groupID int64, q model.HistoryQuery) ([]model.Message, error)
}

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

const messageColumns = `id, sender_id, recipient_id, group_id, body, status, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var msg model.Message
	var recipientID, groupID sql.NullInt64
	var status string
	if err := row.Scan(&msg.ID, &msg.SenderID, &recipientID, &groupID, &msg.Body, &status, &msg.CreatedAt); err != nil {
		return model.Message{}, err
	}
	if recipientID.Valid {
		id := recipientID.Int64
		msg.RecipientID = &id
	}
	if groupID.Valid {
		id := groupID.Int64
		msg.GroupID = &id
	}
	msg.Status = model.MessageStatus(status)
	return msg, nil
}

// Create persists a new message and returns it with ID and CreatedAt set
func (r *messageRepo) Create(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.Status == "" {
		msg.Status = model.StatusSent
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, group_id, body, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, msg.SenderID, msg.RecipientID, msg.GroupID, msg.Body, string(msg.Status)).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// GetByID retrieves a message by ID
func (r *messageRepo) GetByID(ctx context.Context, id int64) (model.Message, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, fmt.Errorf("message: %w", ErrNotFound)
		}
		return model.Message{}, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// UpdateStatus sets the message status
func (r *messageRepo) UpdateStatus(ctx context.Context, id int64, status model.MessageStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE messages SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message: %w", ErrNotFound)
	}
	return nil
}

// ListDirect returns messages exchanged between two users, newest first
func (r *messageRepo) ListDirect(ctx context.Context, userA, userB int64, q model.HistoryQuery) ([]model.Message, error) {
	return r.list(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE group_id IS NULL
		  AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, userA, userB, q.Before, HistoryLimit(q.Limit))
}

// ListGroup returns messages sent to a group, newest first
func (r *messageRepo) ListGroup(ctx context.Context, groupID int64, q model.HistoryQuery) ([]model.Message, error) {
	return r.list(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE group_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, groupID, q.Before, HistoryLimit(q.Limit))
}

func (r *messageRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
