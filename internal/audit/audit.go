// Package audit records administrative mutations to an append-only sink.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Entry struct {
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	PrevValue  string    `json:"prev_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
}

type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		"insert into audit_log (actor, action, target_type, target_id, prev_value, new_value, reason, created_at) values ($1,$2,$3,$4,$5,$6,$7,$8)",
		e.Actor, e.Action, e.TargetType, e.TargetID, e.PrevValue, e.NewValue, e.Reason, e.CreatedAt)
	return err
}
