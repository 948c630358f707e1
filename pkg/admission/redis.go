package admission

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const waitingKeyPrefix = "gantry:waiting:"

// Redis is a waiting queue backed by a sorted set per pipeline
// configuration, scored by enqueue time so oldest/newest pops are range
// operations.
type Redis struct {
	client *goredis.Client
	now    func() time.Time
}

func NewRedis(client *goredis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func waitingKey(pipelineConfigID string) string {
	return waitingKeyPrefix + pipelineConfigID
}

func (r *Redis) Enqueue(ctx context.Context, pipelineConfigID, executionID string) error {
	member := goredis.Z{
		Score:  float64(r.now().UnixNano()),
		Member: executionID,
	}

	if err := r.client.ZAdd(ctx, waitingKey(pipelineConfigID), member).Err(); err != nil {
		return fmt.Errorf("failed to enqueue waiting execution %s: %w", executionID, err)
	}

	return nil
}

func (r *Redis) PopOldest(ctx context.Context, pipelineConfigID string) (string, bool, error) {
	return r.pop(ctx, pipelineConfigID, false)
}

func (r *Redis) PopNewest(ctx context.Context, pipelineConfigID string) (string, bool, error) {
	return r.pop(ctx, pipelineConfigID, true)
}

func (r *Redis) pop(ctx context.Context, pipelineConfigID string, newest bool) (string, bool, error) {
	var (
		result []goredis.Z
		err    error
	)

	if newest {
		result, err = r.client.ZPopMax(ctx, waitingKey(pipelineConfigID), 1).Result()
	} else {
		result, err = r.client.ZPopMin(ctx, waitingKey(pipelineConfigID), 1).Result()
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to pop waiting execution for config %s: %w", pipelineConfigID, err)
	}

	if len(result) == 0 {
		return "", false, nil
	}

	id, _ := result[0].Member.(string)

	return id, true, nil
}

func (r *Redis) Purge(ctx context.Context, pipelineConfigID string) ([]string, error) {
	key := waitingKey(pipelineConfigID)

	ids, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting queue for config %s: %w", pipelineConfigID, err)
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("failed to purge waiting queue for config %s: %w", pipelineConfigID, err)
	}

	return ids, nil
}

func (r *Redis) Depth(ctx context.Context, pipelineConfigID string) (int, error) {
	depth, err := r.client.ZCard(ctx, waitingKey(pipelineConfigID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read waiting queue depth for config %s: %w", pipelineConfigID, err)
	}

	return int(depth), nil
}
