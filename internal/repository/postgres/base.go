package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

func (r *BaseRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
