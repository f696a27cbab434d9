package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// diagnosticsKey is the single cache key the scheduler publishes its last
// tick summary under; any replica's admin tooling can read it without
// querying the sink database.
const diagnosticsKey = "loaderengine:scheduler:last_tick"

// tickSummary is what gets published to the diagnostics cache after every
// main-loop tick, per the teacher's Conn.Cache bundle (§ ambient stack).
type tickSummary struct {
	At        time.Time `json:"at"`
	Eligible  int       `json:"eligible"`
	Dispatched int      `json:"dispatched"`
}

// Diagnostics publishes scheduler tick summaries to a shared cache so
// operators can observe scheduling activity across replicas without
// touching the sink database. A nil *Diagnostics is a valid no-op.
type Diagnostics struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDiagnostics wraps the diagnostics cache client. client may come
// directly from data.Conn.Cache.
func NewDiagnostics(client *redis.Client, ttl time.Duration) *Diagnostics {
	return &Diagnostics{client: client, ttl: ttl}
}

func (d *Diagnostics) publish(ctx context.Context, eligible, dispatched int) {
	if d == nil || d.client == nil {
		return
	}
	payload, err := json.Marshal(tickSummary{At: time.Now().UTC(), Eligible: eligible, Dispatched: dispatched})
	if err != nil {
		return
	}
	if err := d.client.Set(ctx, diagnosticsKey, payload, d.ttl).Err(); err != nil {
		log.Printf("scheduler: publishing tick diagnostics failed: %v", err)
	}
}

// WithDiagnostics attaches a diagnostics publisher to an already-built
// Scheduler. Optional: a Scheduler with no diagnostics attached behaves
// identically, just without the cache write.
func (s *Scheduler) WithDiagnostics(d *Diagnostics) *Scheduler {
	s.diag = d
	return s
}
