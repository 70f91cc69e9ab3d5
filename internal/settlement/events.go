package settlement

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventStreamKey is the Redis stream settled records are appended to.
const EventStreamKey = "settlement:events"

// Emitter publishes settled records to downstream consumers.
type Emitter interface {
	Emit(ctx context.Context, rec *Record)
}

// NoopEmitter discards records.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, *Record) {}

// StreamEmitter appends records to a capped Redis stream.
type StreamEmitter struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	log    *zap.Logger
}

func NewStreamEmitter(rdb *redis.Client, maxLen int64, log *zap.Logger) *StreamEmitter {
	return &StreamEmitter{rdb: rdb, stream: EventStreamKey, maxLen: maxLen, log: log}
}

// Emit never fails the settlement; a lost event is logged.
func (s *StreamEmitter) Emit(ctx context.Context, rec *Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Error("encode settlement event", zap.Error(err))
		return
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"digest": rec.Digest.Hex(),
			"record": string(payload),
		},
	}).Err()
	if err != nil {
		s.log.Error("publish settlement event",
			zap.String("digest", rec.Digest.Hex()),
			zap.Error(err),
		)
	}
}
