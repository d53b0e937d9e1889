package replication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxsync/internal/observability"
	"github.com/fluxbase-eu/fluxsync/internal/pubsub"
)

// NotifyChannel is the PostgreSQL NOTIFY channel the upstream trigger
// publishes change events on.
const NotifyChannel = "fluxsync_changes"

// Listener consumes the upstream change feed and hands each event to the
// applier. Two paths feed it: PostgreSQL LISTEN/NOTIFY from the replica's
// database, and optionally a pub/sub backend carrying events that an
// external publisher puts on pubsub.ChangesChannel.
type Listener struct {
	pool    *pgxpool.Pool
	applier *Applier
	pubsub  pubsub.PubSub
	metrics *observability.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewListener creates a listener. The pub/sub backend may be nil for
// single-instance deployments.
func NewListener(pool *pgxpool.Pool, applier *Applier, ps pubsub.PubSub, metrics *observability.Metrics) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		pool:    pool,
		applier: applier,
		pubsub:  ps,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins consuming notifications.
func (l *Listener) Start() error {
	go l.listen()
	log.Info().Str("channel", NotifyChannel).Msg("PostgreSQL LISTEN started")

	if l.pubsub != nil {
		go l.listenPubSub()
		log.Info().Str("channel", pubsub.ChangesChannel).Msg("PubSub change listener started")
	}
	return nil
}

// Stop stops the listener.
func (l *Listener) Stop() {
	l.cancel()
}

// listen owns one pooled connection for the LISTEN loop, retrying
// acquisition with exponential backoff.
func (l *Listener) listen() {
	var conn *pgxpool.Conn
	var err error
	maxRetries := 5
	baseDelay := 1 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if l.ctx.Err() != nil {
			return
		}

		acquireCtx, cancel := context.WithTimeout(l.ctx, 10*time.Second)
		conn, err = l.pool.Acquire(acquireCtx)
		cancel()
		if err == nil {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Msg("Failed to acquire connection for LISTEN, retrying...")

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-l.ctx.Done():
				return
			}
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire connection for LISTEN after all retries")
		return
	}
	defer conn.Release()

	if _, err = conn.Exec(l.ctx, "LISTEN "+NotifyChannel); err != nil {
		log.Error().Err(err).Msg("Failed to execute LISTEN")
		return
	}

	for {
		select {
		case <-l.ctx.Done():
			log.Info().Msg("Stopping replication listener")
			return
		default:
			waitCtx, cancel := context.WithTimeout(l.ctx, 5*time.Second)
			notification, err := conn.Conn().WaitForNotification(waitCtx)
			cancel()

			if err != nil {
				if l.ctx.Err() != nil {
					return
				}
				if err == context.DeadlineExceeded || waitCtx.Err() == context.DeadlineExceeded {
					continue
				}
				log.Error().Err(err).Msg("Error waiting for notification")
				time.Sleep(1 * time.Second)
				continue
			}

			l.handlePayload(notification.Channel, []byte(notification.Payload))
		}
	}
}

// listenPubSub consumes change events published by a peer instance.
func (l *Listener) listenPubSub() {
	msgChan, err := l.pubsub.Subscribe(l.ctx, pubsub.ChangesChannel)
	if err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to change channel")
		return
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case msg, ok := <-msgChan:
			if !ok {
				log.Info().Msg("PubSub change channel closed")
				return
			}
			l.handlePayload(msg.Channel, msg.Payload)
		}
	}
}

func (l *Listener) handlePayload(channel string, payload []byte) {
	var event ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to parse change event")
		return
	}

	if l.metrics != nil {
		l.metrics.NotificationReceived(channel)
	}

	if err := l.applier.Apply(l.ctx, &event); err != nil {
		log.Error().
			Err(err).
			Str("table", event.QualifiedTable()).
			Str("type", event.Type).
			Msg("Failed to apply change event")
	}
}
