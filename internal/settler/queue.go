package settler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// jobTTL bounds how long finished job statuses stay queryable.
const jobTTL = 7 * 24 * time.Hour

var ErrEmptyURI = errors.New("settler: job has no uri")

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Enqueue assigns the job an id, records it as queued and appends it to the
// settlement queue.
func Enqueue(ctx context.Context, rdb *redis.Client, job Job) (Job, error) {
	if job.URI == "" {
		return Job{}, ErrEmptyURI
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = time.Now().Unix()
	raw, err := json.Marshal(job)
	if err != nil {
		return Job{}, err
	}
	if err := setStatus(ctx, rdb, job.ID, StatusQueued, "", ""); err != nil {
		return Job{}, err
	}
	if err := rdb.RPush(ctx, QueueKey, string(raw)).Err(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob returns the job's status, or nil when the id is unknown.
func GetJob(ctx context.Context, rdb *redis.Client, id string) (*JobStatus, error) {
	vals, err := rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	updatedAt, _ := strconv.ParseInt(vals["updated_at"], 10, 64)
	return &JobStatus{
		ID:        id,
		Status:    Status(vals["status"]),
		Reason:    vals["reason"],
		Digest:    vals["digest"],
		UpdatedAt: updatedAt,
	}, nil
}

func setStatus(ctx context.Context, rdb *redis.Client, id string, status Status, reason, digest string) error {
	key := jobKey(id)
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"status", string(status),
			"reason", reason,
			"digest", digest,
			"updated_at", time.Now().Unix(),
		)
		p.Expire(ctx, key, jobTTL)
		return nil
	})
	return err
}
