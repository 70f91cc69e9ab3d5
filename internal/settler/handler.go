package settler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/0gfoundation/0g-pos-settlement/internal/settlement"
)

// Settler is the part of the settlement engine the relayer drives.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Record, error)
}

// Process decodes one popped queue item, settles it and records the result.
func Process(ctx context.Context, rdb *redis.Client, engine Settler, codec order.Codec, raw string, maxAttempts int, log *zap.Logger) Status {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		rdb.RPush(ctx, DLQKey, raw)
		log.Error("settler: unmarshal job", zap.String("raw", raw), zap.Error(err))
		return StatusRejected
	}

	req, err := job.request(codec)
	var rec *settlement.Record
	if err == nil {
		rec, err = engine.Settle(ctx, req)
	}
	return HandleResult(ctx, rdb, job, rec, err, maxAttempts, log)
}

func (j Job) request(codec order.Codec) (settlement.Request, error) {
	o, err := codec.Decode(j.URI)
	if err != nil {
		return settlement.Request{}, err
	}
	req := settlement.Request{Submitter: j.Submitter, Order: o}
	if len(j.Payment) > 0 {
		m, err := order.DecodeMethodJSON(j.Payment)
		if err != nil {
			return settlement.Request{}, fmt.Errorf("payment: %w", err)
		}
		req.Payment = &m
	}
	return req, nil
}

// HandleResult stores the job's status and routes failures: permanent
// rejections go to the DLQ, infrastructure errors are re-queued at the head
// until maxAttempts is reached.
func HandleResult(ctx context.Context, rdb *redis.Client, job Job, rec *settlement.Record, err error, maxAttempts int, log *zap.Logger) Status {
	outcome := settlement.Outcome(err)

	switch {
	case err == nil:
		persist(ctx, rdb, job, StatusSettled, "", rec.Digest.Hex(), log)
		log.Info("job settled",
			zap.String("job", job.ID),
			zap.String("digest", rec.Digest.Hex()),
		)
		return StatusSettled

	case errors.Is(err, settlement.ErrExpired), errors.Is(err, settlement.ErrAlreadyProcessed):
		persist(ctx, rdb, job, StatusDiscarded, outcome, "", log)
		log.Warn("job discarded",
			zap.String("job", job.ID),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return StatusDiscarded

	case outcome == "insufficient_rewards", outcome == "insufficient_balance":
		persist(ctx, rdb, job, StatusFailed, outcome, "", log)
		log.Warn("job failed",
			zap.String("job", job.ID),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return StatusFailed

	case outcome == "error":
		job.Attempts++
		if maxAttempts > 0 && job.Attempts >= maxAttempts {
			reject(ctx, rdb, job, "attempts exhausted: "+err.Error(), log)
			return StatusRejected
		}
		raw, _ := json.Marshal(job)
		rdb.LPush(ctx, QueueKey, string(raw))
		log.Error("job re-queued after error",
			zap.String("job", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err),
		)
		return StatusQueued

	default:
		reject(ctx, rdb, job, outcome+": "+err.Error(), log)
		return StatusRejected
	}
}

func reject(ctx context.Context, rdb *redis.Client, job Job, reason string, log *zap.Logger) {
	raw, _ := json.Marshal(job)
	rdb.RPush(ctx, DLQKey, string(raw))
	persist(ctx, rdb, job, StatusRejected, reason, "", log)
	log.Error("job rejected",
		zap.String("job", job.ID),
		zap.String("submitter", job.Submitter.Hex()),
		zap.String("reason", reason),
	)
}

func persist(ctx context.Context, rdb *redis.Client, job Job, status Status, reason, digest string, log *zap.Logger) {
	if job.ID == "" {
		return
	}
	if err := setStatus(ctx, rdb, job.ID, status, reason, digest); err != nil {
		log.Error("settler: persist job status", zap.String("job", job.ID), zap.Error(err))
	}
}
