// Package broker consumes user lifecycle events published by the rest
// of the platform, keeping the local user mirror current.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/metrics"
	"github.com/apexkv/facebook-clone/internal/store"
)

const (
	SubjectUserCreated = "user.created"
	SubjectUserUpdated = "user.updated"

	handleTimeout = 5 * time.Second
)

// userEvent is the payload on user.created and user.updated.
type userEvent struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// Consumer subscribes to user events and upserts them into the store.
type Consumer struct {
	nc    *nats.Conn
	store store.DataStore
	log   zerolog.Logger
	subs  []*nats.Subscription
}

// Connect dials NATS and returns a consumer. The connection retries in
// the background, so a broker outage at boot is not fatal.
func Connect(url string, ds store.DataStore, log zerolog.Logger) (*Consumer, error) {
	logger := log.With().Str("component", "broker").Logger()

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Consumer{nc: nc, store: ds, log: logger}, nil
}

// Start subscribes to the user subjects.
func (c *Consumer) Start() error {
	for _, subject := range []string{SubjectUserCreated, SubjectUserUpdated} {
		sub, err := c.nc.Subscribe(subject, c.handleUserEvent)
		if err != nil {
			return err
		}
		c.subs = append(c.subs, sub)
		c.log.Info().Str("subject", subject).Msg("subscribed")
	}
	return nil
}

func (c *Consumer) handleUserEvent(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	var ev userEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		metrics.BrokerEvents.WithLabelValues(msg.Subject, "invalid").Inc()
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed user event")
		return
	}

	userID, err := uuid.Parse(ev.ID)
	if err != nil || ev.FullName == "" {
		metrics.BrokerEvents.WithLabelValues(msg.Subject, "invalid").Inc()
		c.log.Warn().Str("subject", msg.Subject).Str("id", ev.ID).Msg("user event rejected")
		return
	}

	if _, err := c.store.UpsertUser(ctx, userID, ev.FullName); err != nil {
		metrics.BrokerEvents.WithLabelValues(msg.Subject, "error").Inc()
		c.log.Error().Err(err).Str("user_id", ev.ID).Msg("user upsert failed")
		return
	}

	metrics.BrokerEvents.WithLabelValues(msg.Subject, "ok").Inc()
	c.log.Debug().Str("subject", msg.Subject).Str("user_id", ev.ID).Msg("user synced")
}

// Healthy reports whether the NATS connection is currently up.
func (c *Consumer) Healthy() bool {
	return c.nc != nil && c.nc.Status() == nats.CONNECTED
}

// Close drains subscriptions and closes the connection.
func (c *Consumer) Close() {
	for _, sub := range c.subs {
		sub.Drain()
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
