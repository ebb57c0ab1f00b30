// Package queue is the dispatcher described by spec.md 4.7: a
// type-routed, wildcard-augmented handler table consuming batches off
// the eventbus's durable queue. Batch claiming is grounded on the
// teacher's claimNextSession FOR UPDATE SKIP LOCKED pattern
// (pkg/queue/worker.go), generalized from "one session" to "a batch of
// pending envelopes".
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tampadevs/communityevents/internal/config"
	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/metrics"
)

// Handler processes one domain event envelope. Handlers must be
// idempotent (spec.md 4.7, 9) since the dispatcher acknowledges a
// message even when some handlers on it fail.
type Handler func(ctx context.Context, env eventbus.Envelope) error

// Wildcard is the handler-table key for handlers that run on every
// event type (spec.md 4.7).
const Wildcard = "*"

// Dispatcher holds the process-wide handler table and claims/processes
// batches from the durable queue. The handler table is built once at
// startup via Register and is read-only thereafter (spec.md 5, 9).
type Dispatcher struct {
	pool     *pgxpool.Pool
	cfg      config.QueueConfig
	handlers map[string][]Handler

	stopCh        chan struct{}
	wg            sync.WaitGroup
	onBatchStart  []func()
}

// New constructs a Dispatcher. Call Register for every handler before Run.
func New(pool *pgxpool.Pool, cfg config.QueueConfig) *Dispatcher {
	return &Dispatcher{pool: pool, cfg: cfg, handlers: make(map[string][]Handler), stopCh: make(chan struct{})}
}

// Register adds h to the handler list for eventType, or to the
// wildcard list if eventType is Wildcard. Only legal during startup.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// OnBatchStart registers a hook invoked once at the start of every
// claimed batch, before any handler for that batch runs. The
// achievement engine uses this to drop its per-batch definition cache
// (spec.md 5, 9); only legal during startup.
func (d *Dispatcher) OnBatchStart(fn func()) {
	d.onBatchStart = append(d.onBatchStart, fn)
}

// Run starts the dispatch loop and a pg_notify listener that wakes it
// early. It blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	wake := make(chan struct{}, 1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.listenForWake(ctx, wake)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop(ctx, wake)
	}()

	d.wg.Wait()
}

// Stop signals the dispatch loop to exit and waits for it to drain.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		processed, err := d.pollOnce(ctx)
		if err != nil {
			slog.Error("dispatcher: poll failed", "error", err)
			d.sleep(ctx, time.Second)
			continue
		}
		if processed {
			continue // drain immediately; more may be pending
		}

		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-wake:
		case <-time.After(pollIntervalWithJitter(d.cfg.PollInterval)):
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	select {
	case <-ctx.Done():
	case <-d.stopCh:
	case <-time.After(dur):
	}
}

// pollIntervalWithJitter returns base +/- 20%, matching the teacher's
// pollInterval jitter so many replicas don't all wake in lockstep.
func pollIntervalWithJitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	jitter := base / 5
	offset := time.Duration(rand.Int64N(int64(2*jitter + 1)))
	return base - jitter + offset
}

type queuedEnvelope struct {
	id  int64
	env eventbus.Envelope
}

// pollOnce claims up to BatchSize pending rows with FOR UPDATE SKIP
// LOCKED, dispatches each to its handlers with all-settled semantics,
// then marks the whole claimed batch delivered in the same transaction
// (spec.md 4.7). If anything fails before the final commit — a
// malformed row, a lost connection — the transaction rolls back and
// the rows become claimable again on the next poll by any dispatcher:
// that is the negative-acknowledge path spec.md 4.7 describes for
// exceptions escaping the dispatcher loop itself.
func (d *Dispatcher) pollOnce(ctx context.Context) (processed bool, err error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batchSize := d.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	const q = `
SELECT id, event_type, payload, user_id, source, occurred_at, attempts
FROM domain_event_queue
WHERE delivered_at IS NULL
ORDER BY id ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, q, batchSize)
	if err != nil {
		return false, fmt.Errorf("claiming batch: %w", err)
	}

	var claimed []queuedEnvelope
	for rows.Next() {
		var (
			id         int64
			eventType  string
			payloadRaw []byte
			userID     *string
			source     string
			occurredAt time.Time
			attempts   int
		)
		if err := rows.Scan(&id, &eventType, &payloadRaw, &userID, &source, &occurredAt, &attempts); err != nil {
			rows.Close()
			return false, fmt.Errorf("scanning queued envelope: %w", err)
		}
		var payload map[string]any
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &payload); err != nil {
				rows.Close()
				return false, fmt.Errorf("decoding envelope payload %d: %w", id, err)
			}
		}
		claimed = append(claimed, queuedEnvelope{
			id: id,
			env: eventbus.Envelope{
				Type:      eventType,
				Payload:   payload,
				Metadata:  eventbus.Metadata{UserID: userID, Source: source},
				Timestamp: occurredAt,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterating claimed batch: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	metrics.QueueBatchesTotal.Inc()

	for _, hook := range d.onBatchStart {
		hook()
	}

	ids := make([]int64, len(claimed))
	for i, c := range claimed {
		ids[i] = c.id
		d.dispatch(ctx, c.env)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE domain_event_queue SET delivered_at = now(), attempts = attempts + 1 WHERE id = ANY($1)`, ids,
	); err != nil {
		return false, fmt.Errorf("marking batch delivered: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing batch: %w", err)
	}
	return true, nil
}

// dispatch runs every handler for one envelope with all-settled
// semantics: a rejecting handler is logged individually and does not
// prevent the message from being acknowledged or its siblings from
// running (spec.md 4.7).
func (d *Dispatcher) dispatch(ctx context.Context, env eventbus.Envelope) {
	specific := d.handlers[env.Type]
	wildcard := d.handlers[Wildcard]
	if len(specific) == 0 && len(wildcard) == 0 {
		return
	}

	all := make([]Handler, 0, len(specific)+len(wildcard))
	all = append(all, specific...)
	all = append(all, wildcard...)

	var wg sync.WaitGroup
	for _, h := range all {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("dispatcher: handler panicked", "event_type", env.Type, "panic", r)
				}
			}()
			if err := h(ctx, env); err != nil {
				slog.Error("dispatcher: handler rejected event", "event_type", env.Type, "error", err)
				metrics.QueueHandlerErrorsTotal.WithLabelValues(env.Type).Inc()
			}
		}(h)
	}
	wg.Wait()
}

// listenForWake holds a dedicated connection LISTENing on
// eventbus.NotifyChannel and forwards each notification as a
// non-blocking wake signal, letting the dispatch loop react promptly
// instead of waiting out the full poll interval.
func (d *Dispatcher) listenForWake(ctx context.Context, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		conn, err := d.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			time.Sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+eventbus.NotifyChannel); err != nil {
			conn.Release()
			time.Sleep(time.Second)
			continue
		}

		d.drainNotifications(ctx, conn, wake)
		conn.Release()
	}
}

func (d *Dispatcher) drainNotifications(ctx context.Context, conn *pgxpool.Conn, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		_, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pgx.ErrNoRows) {
				slog.Warn("dispatcher: listen connection lost, reconnecting", "error", err)
			}
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
