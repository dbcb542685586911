package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skovgaard/auctiond/internal/store"
)

// UserRepo implements store.UserRepository with sqlx.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo returns a new UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Upsert(ctx context.Context, externalID, displayName string) (*store.User, error) {
	now := time.Now().UTC()
	var u store.User
	err := r.db.GetContext(ctx, &u,
		`INSERT INTO users (id, external_id, display_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (external_id)
		 DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
		 RETURNING *`,
		uuid.NewString(), externalID, displayName, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}
