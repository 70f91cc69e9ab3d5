package settler

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Redis key templates
const (
	QueueKey     = "settlement:queue"
	DLQKey       = "settlement:dlq"
	jobKeyPrefix = "settlement:job:" // hash per job id
)

// Job is one queued settlement: an order URI submitted by Submitter, with
// an optional payment shape supplied at submission time.
type Job struct {
	ID         string          `json:"id"`
	Submitter  common.Address  `json:"submitter"`
	URI        string          `json:"uri"`
	Payment    json.RawMessage `json:"payment,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSettled   Status = "settled"
	StatusDiscarded Status = "discarded" // expired or already settled
	StatusRejected  Status = "rejected"  // will never settle; copied to the DLQ
	StatusFailed    Status = "failed"    // insufficient funds; resubmit later
)

// JobStatus is the stored view of a job.
type JobStatus struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Digest    string `json:"digest,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}
