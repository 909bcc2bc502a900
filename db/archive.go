package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/anonchat/chat"
	"github.com/onnwee/anonchat/telemetry"
)

const (
	defaultArchiveBatch    = 50
	defaultArchiveInterval = time.Second
	defaultArchiveQueue    = 1024
)

// TranscriptLine is one archived, already anonymized chat line.
type TranscriptLine struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	MessageID string    `json:"message_id,omitempty"`
	Pseudonym string    `json:"pseudonym"`
	Message   string    `json:"message"`
	BadgeURLs []string  `json:"badges"`
	SentAt    time.Time `json:"sent_at"`
}

// ArchiveOptions tunes batching. Zero values pick the defaults.
type ArchiveOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Archive is a chat.Renderer that persists display records in batches on a
// background goroutine. Render never blocks the chat pipeline: when the queue
// is full the record is counted as dropped and discarded. Only the pseudonym
// is stored; DisplayRecord.DisplayName never reaches the database.
type Archive struct {
	store     *Store
	batchSize int
	interval  time.Duration

	in   chan TranscriptLine
	done chan struct{}

	mu        sync.Mutex
	sessionID string
	closed    bool
	lastErr   error
}

// NewArchive starts the archive worker.
func NewArchive(store *Store, opts ArchiveOptions) *Archive {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultArchiveBatch
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultArchiveInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultArchiveQueue
	}
	a := &Archive{
		store:     store,
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		in:        make(chan TranscriptLine, opts.QueueSize),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

// SetSession tags subsequent records with sessionID.
func (a *Archive) SetSession(sessionID, _ string) {
	a.mu.Lock()
	a.sessionID = sessionID
	a.mu.Unlock()
}

// Render implements chat.Renderer.
func (a *Archive) Render(rec chat.DisplayRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		telemetry.IncDropped("archive_closed")
		return
	}
	badges := rec.BadgeURLs
	if badges == nil {
		badges = []string{}
	}
	line := TranscriptLine{
		SessionID: a.sessionID,
		Channel:   rec.Channel,
		MessageID: rec.ID,
		Pseudonym: rec.Pseudonym,
		Message:   rec.Text,
		BadgeURLs: badges,
		SentAt:    rec.SentAt,
	}
	select {
	case a.in <- line:
	default:
		telemetry.IncDropped("archive_full")
	}
}

// Err returns and clears the last write error seen by the worker.
func (a *Archive) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.lastErr
	a.lastErr = nil
	return err
}

// Close stops accepting records and waits for queued ones to be written.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.in)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archive) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	buf := make([]TranscriptLine, 0, a.batchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := a.store.InsertTranscript(ctx, buf)
		cancel()
		if err != nil {
			slog.Warn("archive flush failed", slog.String("component", "archive"), slog.Int("lines", len(buf)), slog.Any("err", err))
			telemetry.AddDropped("archive_write", len(buf))
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
		}
		buf = buf[:0]
	}
	for {
		select {
		case line, ok := <-a.in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, line)
			if len(buf) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// InsertTranscript writes lines in one transaction.
func (s *Store) InsertTranscript(ctx context.Context, lines []TranscriptLine) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO transcript_lines
		(session_id, channel, message_id, pseudonym, message, badges, sent_at_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	now := time.Now().UnixMilli()
	for _, l := range lines {
		badges, err := json.Marshal(l.BadgeURLs)
		if err != nil {
			return fmt.Errorf("encode badges: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, l.SessionID, l.Channel, l.MessageID, l.Pseudonym, l.Message, string(badges), l.SentAt.UnixMilli(), now); err != nil {
			return fmt.Errorf("insert transcript line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TranscriptFilter narrows ListTranscript. Limit defaults to 100, max 1000.
type TranscriptFilter struct {
	Channel   string
	SessionID string
	Limit     int
}

// ListTranscript returns the newest matching lines in chronological order.
func (s *Store) ListTranscript(ctx context.Context, f TranscriptFilter) ([]TranscriptLine, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	q := `SELECT id, session_id, channel, message_id, pseudonym, message, badges, sent_at_ms FROM transcript_lines WHERE 1=1`
	var args []any
	if f.Channel != "" {
		q += ` AND channel = ?`
		args = append(args, f.Channel)
	}
	if f.SessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	defer rows.Close()
	var out []TranscriptLine
	for rows.Next() {
		var (
			l      TranscriptLine
			badges string
			sentMs int64
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Channel, &l.MessageID, &l.Pseudonym, &l.Message, &badges, &sentMs); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if err := json.Unmarshal([]byte(badges), &l.BadgeURLs); err != nil || l.BadgeURLs == nil {
			l.BadgeURLs = []string{}
		}
		l.SentAt = time.UnixMilli(sentMs).UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
