// Package audit persists blocked requests to PostgreSQL for offline
// analysis. Entropy and judge blocks are tagged as training candidates:
// they are live adversarial prompts worth folding into the next
// detector iteration. Writes are fire-and-forget; an unreachable
// journal never slows down or fails a request.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/llmshield/shield-gateway/internal/types"
)

// writeTimeout bounds a single insert. The write runs on a background
// context so an abandoned request still gets its row.
const writeTimeout = 2 * time.Second

// Execer is the slice of pgxpool.Pool the journal needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Event is one journal row describing a blocked request.
type Event struct {
	RequestID         string
	Fingerprint       string
	Kind              string
	ThreatLevel       types.ThreatLevel
	EntropyScore      float64
	Detail            string
	TrainingCandidate bool
}

const insertEvent = `
	INSERT INTO shield_events
		(request_id, fingerprint, kind, threat_level, entropy_score, detail, training_candidate)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Journal writes shield events to the database. A nil *Journal or a
// nil database is valid and drops everything.
type Journal struct {
	db     Execer
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewJournal(db Execer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

// Record queues ev for insertion and returns immediately. Failures are
// logged, never surfaced.
func (j *Journal) Record(ev Event) {
	if j == nil || j.db == nil {
		return
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if _, err := j.db.Exec(ctx, insertEvent,
			ev.RequestID,
			ev.Fingerprint,
			ev.Kind,
			string(ev.ThreatLevel),
			ev.EntropyScore,
			ev.Detail,
			ev.TrainingCandidate,
		); err != nil {
			j.logger.Warn("audit journal write failed",
				"error", err, "request_id", ev.RequestID)
		}
	}()
}

// Close waits for in-flight writes to land.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.wg.Wait()
}
