// Package cache keeps assembled loan statements in Redis. A statement is
// dropped whenever its loan is mutated. Readers must still compare the
// cached loan version with the stored one before serving a hit, since a
// statement assembled before a commit can be written after its invalidation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segyhp/loan-ledger/internal/domain"
)

// StatementCache stores statements by loan ID. Get returns nil, nil on a miss.
type StatementCache interface {
	Get(ctx context.Context, loanID uuid.UUID) (*domain.Statement, error)
	Set(ctx context.Context, statement *domain.Statement) error
	Invalidate(ctx context.Context, loanID uuid.UUID) error
}

type RedisStatementCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatementCache(client *redis.Client, ttl time.Duration) *RedisStatementCache {
	return &RedisStatementCache{client: client, ttl: ttl}
}

func statementKey(loanID uuid.UUID) string {
	return fmt.Sprintf("statement:%s", loanID)
}

func (c *RedisStatementCache) Get(ctx context.Context, loanID uuid.UUID) (*domain.Statement, error) {
	raw, err := c.client.Get(ctx, statementKey(loanID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var statement domain.Statement
	if err := json.Unmarshal(raw, &statement); err != nil {
		return nil, fmt.Errorf("decode cached statement: %w", err)
	}
	return &statement, nil
}

func (c *RedisStatementCache) Set(ctx context.Context, statement *domain.Statement) error {
	raw, err := json.Marshal(statement)
	if err != nil {
		return fmt.Errorf("encode statement: %w", err)
	}
	return c.client.Set(ctx, statementKey(statement.Loan.ID), raw, c.ttl).Err()
}

func (c *RedisStatementCache) Invalidate(ctx context.Context, loanID uuid.UUID) error {
	return c.client.Del(ctx, statementKey(loanID)).Err()
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, uuid.UUID) (*domain.Statement, error) { return nil, nil }
func (Nop) Set(context.Context, *domain.Statement) error              { return nil }
func (Nop) Invalidate(context.Context, uuid.UUID) error               { return nil }
