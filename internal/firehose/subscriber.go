// Package firehose follows the Jetstream event stream and hands events to the
// indexer.
package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/blackmichael/bluesky-appview/internal/indexer"
	"github.com/blackmichael/bluesky-appview/internal/metrics"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
	statsInterval      = 30 * time.Second
)

// Processor applies firehose events. *indexer.Indexer implements it.
type Processor interface {
	ProcessCommit(ctx context.Context, c *indexer.Commit) (bool, error)
	ProcessIdentity(ctx context.Context, id *indexer.Identity) error
	ProcessAccount(ctx context.Context, acct *indexer.Account) error
	GetCursor(ctx context.Context, service string) (int64, error)
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// Subscriber connects to the Jetstream firehose and processes events.
type Subscriber struct {
	url         string
	collections []string
	processor   Processor
	logger      *slog.Logger
	newBackOff  func() backoff.BackOff
}

// NewSubscriber creates a subscriber that requests the given collections.
func NewSubscriber(firehoseURL string, collections []string, processor Processor, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:         firehoseURL,
		collections: collections,
		processor:   processor,
		logger:      logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It reconnects with exponential backoff, and the backoff resets
// once a connection is established.
func (s *Subscriber) Start(ctx context.Context) error {
	b := s.newBackOff()
	for {
		connected, err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.logger.Error("firehose connection error, reconnecting", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range s.collections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// subscribe runs one connection. It reports whether the dial succeeded.
func (s *Subscriber) subscribe(ctx context.Context) (bool, error) {
	cursor, err := s.processor.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return false, err
	}
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()
	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to firehose")

	latestCursor := cursor
	saveCursor := func(ctx context.Context) {
		if latestCursor == 0 {
			return
		}
		if err := s.processor.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
			s.logger.Error("failed to save cursor", "error", err)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		saveCursor(ctx)
	}()

	var st stats
	savedAt, loggedAt := time.Now(), time.Now()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}
		if event.TimeUS > 0 {
			latestCursor = event.TimeUS
		}
		metrics.FirehoseEvents.WithLabelValues(event.Kind, event.collection()).Inc()
		s.dispatch(ctx, event, &st)

		if time.Since(loggedAt) >= statsInterval {
			s.logger.Info("firehose stats",
				"events", st.events,
				"commits", st.commits,
				"failed", st.failed,
				"feed_matches", st.feedMatches,
			)
			loggedAt = time.Now()
		}
		if time.Since(savedAt) >= cursorSaveInterval {
			saveCursor(ctx)
			savedAt = time.Now()
		}
	}
}

// stats counts events on one connection for the periodic log line.
type stats struct {
	events, commits, failed, feedMatches int64
}

func (s *Subscriber) dispatch(ctx context.Context, event *jetstreamEvent, st *stats) {
	st.events++
	var err error
	switch {
	case event.Kind == kindCommit && event.Commit != nil:
		st.commits++
		var matched bool
		if matched, err = s.processor.ProcessCommit(ctx, event.toCommit()); matched {
			st.feedMatches++
			s.logger.Debug("post matched a keyword feed", "did", event.DID, "rkey", event.Commit.RKey)
		}
	case event.Kind == kindIdentity && event.Identity != nil:
		err = s.processor.ProcessIdentity(ctx, event.toIdentity())
	case event.Kind == kindAccount && event.Account != nil:
		err = s.processor.ProcessAccount(ctx, event.toAccount())
	default:
		return
	}
	if err != nil {
		st.failed++
		s.logger.Error("failed to index event", "kind", event.Kind, "collection", event.collection(), "did", event.DID, "error", err)
	}
}
