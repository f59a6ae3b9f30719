package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/signalix/chatserver/internal/model"
)

// GroupRepo defines the interface for group repository operations
type GroupRepo interface {
	Create(ctx context.Context, name string, memberIDs []int64) (model.Group, error)
	GetByID(ctx context.Context, id int64) (model.Group, error)
	AddMember(ctx context.Context, groupID, userID int64) error
}

type groupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a new GroupRepo instance
func NewGroupRepo(db *sql.DB) GroupRepo {
	return &groupRepo{db: db}
}

// Create inserts the group and its members in one transaction
func (r *groupRepo) Create(ctx context.Context, name string, memberIDs []int64) (model.Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Group{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	group := model.Group{Name: name}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name) VALUES ($1) RETURNING id, created_at
	`, name).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Group{}, fmt.Errorf("group: %w", ErrConflict)
		}
		return model.Group{}, fmt.Errorf("insert group: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		INSERT INTO group_members (group_id, user_id)
		SELECT $1, u.id FROM users u WHERE u.id = ANY($2::bigint[])
		ON CONFLICT DO NOTHING
		RETURNING user_id
	`, group.ID, pq.Array(memberIDs))
	if err != nil {
		return model.Group{}, fmt.Errorf("insert group members: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return model.Group{}, fmt.Errorf("scan group member: %w", err)
		}
		group.MemberIDs = append(group.MemberIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Group{}, fmt.Errorf("insert group members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Group{}, fmt.Errorf("commit: %w", err)
	}
	return group, nil
}

// GetByID loads the group together with its member ids
func (r *groupRepo) GetByID(ctx context.Context, id int64) (model.Group, error) {
	var group model.Group
	var members pq.Int64Array
	err := r.db.QueryRowContext(ctx, `
		SELECT g.id, g.name, g.created_at,
		       COALESCE(array_agg(m.user_id ORDER BY m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '{}')
		FROM groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE g.id = $1
		GROUP BY g.id
	`, id).Scan(&group.ID, &group.Name, &group.CreatedAt, &members)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Group{}, fmt.Errorf("group: %w", ErrNotFound)
		}
		return model.Group{}, fmt.Errorf("query group: %w", err)
	}
	group.MemberIDs = []int64(members)
	return group, nil
}

// AddMember adds a user to the group; adding an existing member is a no-op
func (r *groupRepo) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, groupID, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("group member: %w", ErrNotFound)
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}
