// Package override carries operator instructions (open the gate, mute the
// alarm) from the remote control surface to the exit controller.
package override

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gate-service/internal/domain/gate"
)

var ErrUnknownInstruction = errors.New("unknown override instruction")

// Instruction is one operator request. It is consumed by exactly one poll.
type Instruction struct {
	ID          uuid.UUID     `json:"id"`
	Override    gate.Override `json:"override"`
	Gate        string        `json:"gate"`
	RequestedBy string        `json:"requested_by,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// RedisQueue is a per-gate list. Producers LPUSH and the controller BRPOPs, so
// an instruction is removed atomically by the poll that returns it.
type RedisQueue struct {
	client      *redis.Client
	key         string
	gateID      string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, keyPrefix, gateID string, pollTimeout time.Duration) *RedisQueue {
	if pollTimeout < time.Second {
		// BRPOP counts in whole seconds
		pollTimeout = time.Second
	}
	return &RedisQueue{
		client:      client,
		key:         fmt.Sprintf("%s:%s", keyPrefix, gateID),
		gateID:      gateID,
		pollTimeout: pollTimeout,
	}
}

func (q *RedisQueue) Push(ctx context.Context, override gate.Override, requestedBy string) (Instruction, error) {
	if !override.Valid() {
		return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownInstruction, override)
	}

	inst := Instruction{
		ID:          uuid.New(),
		Override:    override,
		Gate:        q.gateID,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return Instruction{}, fmt.Errorf("failed to marshal instruction: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return Instruction{}, fmt.Errorf("push override: %w", err)
	}
	return inst, nil
}

// Poll waits up to the poll timeout for the oldest pending instruction. An
// empty queue yields an Instruction with gate.OverrideNone.
func (q *RedisQueue) Poll(ctx context.Context) (Instruction, error) {
	res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Instruction{Override: gate.OverrideNone}, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Instruction{}, ctxErr
		}
		return Instruction{}, fmt.Errorf("poll override: %w", err)
	}
	// BRPOP answers [key, value]
	if len(res) != 2 {
		return Instruction{}, fmt.Errorf("poll override: unexpected reply %v", res)
	}

	var inst Instruction
	if err := json.Unmarshal([]byte(res[1]), &inst); err != nil {
		return Instruction{}, fmt.Errorf("%w: %v", ErrUnknownInstruction, err)
	}
	if !inst.Override.Valid() {
		return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownInstruction, inst.Override)
	}
	return inst, nil
}

// Drain discards everything pending and reports how much was dropped.
func (q *RedisQueue) Drain(ctx context.Context) (int64, error) {
	pipe := q.client.TxPipeline()
	length := pipe.LLen(ctx, q.key)
	pipe.Del(ctx, q.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("drain overrides: %w", err)
	}
	return length.Val(), nil
}

func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count overrides: %w", err)
	}
	return n, nil
}
