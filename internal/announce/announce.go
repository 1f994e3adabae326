// Package announce publishes release events to NATS JetStream so downstream
// consumers (mirrors, deploy jobs, chat bots) learn about new versions.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	appcfg "git.home.luguber.info/inful/relbuilder/internal/config"
)

// ReleaseEvent is the published payload.
type ReleaseEvent struct {
	Repo     string    `json:"repo"`
	Tag      string    `json:"tag"`
	Version  string    `json:"version"`
	Artifact string    `json:"artifact"`
	SHA256   string    `json:"sha256"`
	Time     time.Time `json:"time"`
}

// Announcer manages the NATS connection and stream for release events.
type Announcer struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// New connects to NATS and ensures the release stream exists.
func New(cfg appcfg.AnnounceConfig) (*Announcer, error) {
	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	slog.Info("Announcer connected",
		"url", cfg.NATSURL,
		"subject", cfg.Subject,
		"stream", cfg.Stream)

	return &Announcer{conn: conn, js: js, subject: cfg.Subject}, nil
}

// Publish sends a release event. Failures here do not fail the release:
// the uploads already happened and are not rolled back.
func (a *Announcer) Publish(ctx context.Context, event ReleaseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal release event: %w", err)
	}
	if _, err := a.js.Publish(ctx, a.subject, data); err != nil {
		return fmt.Errorf("publish release event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (a *Announcer) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}
