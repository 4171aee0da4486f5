package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/model"
)

// CreateAgent inserts an agent credential and returns it.
func (db *DB) CreateAgent(ctx context.Context, a model.Agent) (model.Agent, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (id, address, name, role, api_key_hash, public_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Address, a.Name, a.Role, a.APIKeyHash, a.PublicKey, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return a, nil
}

// GetAgentByAddress retrieves an agent credential by its address.
func (db *DB) GetAgentByAddress(ctx context.Context, address string) (model.Agent, error) {
	var a model.Agent
	err := db.pool.QueryRow(ctx,
		`SELECT id, address, name, role, api_key_hash, public_key, created_at, updated_at
		 FROM agents WHERE address = $1`, address,
	).Scan(&a.ID, &a.Address, &a.Name, &a.Role, &a.APIKeyHash, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, ErrNotFound
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agent credentials ordered by creation time.
func (db *DB) ListAgents(ctx context.Context, limit, offset int) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, address, name, role, api_key_hash, public_key, created_at, updated_at
		 FROM agents ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(&a.ID, &a.Address, &a.Name, &a.Role, &a.APIKeyHash, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
