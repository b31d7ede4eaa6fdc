// Package mover moves messages matching a search and optional subject and
// sender patterns into one of the known folders, without classification.
package mover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/hickar/mailtriage/internal/app/journal"
	"github.com/hickar/mailtriage/internal/app/mailer"
	"github.com/hickar/mailtriage/internal/app/metrics"
	"github.com/hickar/mailtriage/internal/app/router"
	"github.com/hickar/mailtriage/internal/pkg/logger"
)

// DefaultLimit caps a run when no limit is given.
const DefaultLimit = 10

const decisionManual = "manual"

var ErrUnknownFolder = errors.New("unknown destination folder")

type MailStore interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	SelectFolder(ctx context.Context, name string) error
	Search(ctx context.Context, criteria string) ([]string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Move(ctx context.Context, ref, destination string) error
}

// Filter narrows a search by subject and sender. A nil pattern matches
// everything.
type Filter struct {
	Subject *regexp.Regexp
	Sender  *regexp.Regexp
}

func NewFilter(subject, sender string) (Filter, error) {
	var (
		f   Filter
		err error
	)

	if subject != "" {
		if f.Subject, err = regexp.Compile(subject); err != nil {
			return Filter{}, fmt.Errorf("subject pattern: %w", err)
		}
	}
	if sender != "" {
		if f.Sender, err = regexp.Compile(sender); err != nil {
			return Filter{}, fmt.Errorf("sender pattern: %w", err)
		}
	}

	return f, nil
}

// Empty reports whether the filter accepts every message.
func (f Filter) Empty() bool {
	return f.Subject == nil && f.Sender == nil
}

// Match reports whether both patterns occur somewhere in the message
// subject and sender.
func (f Filter) Match(msg *mailer.Message) bool {
	if f.Subject != nil && !f.Subject.MatchString(msg.Subject) {
		return false
	}
	if f.Sender != nil && !f.Sender.MatchString(msg.Sender()) {
		return false
	}

	return true
}

type Options struct {
	Source      string
	Criteria    string
	Destination string
	Filter      Filter
	Limit       int
	DryRun      bool
}

type Result struct {
	Matched int
	Moved   int
	Failed  int
}

func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("matched", r.Matched),
		slog.Int("moved", r.Moved),
		slog.Int("failed", r.Failed),
	)
}

type Mover struct {
	opts    Options
	store   MailStore
	journal journal.Journal
	logger  *slog.Logger
}

func New(opts Options, store MailStore, j journal.Journal, logger *slog.Logger) (*Mover, error) {
	if !router.IsFolder(opts.Destination) {
		return nil, fmt.Errorf("%w %q, expected one of %v", ErrUnknownFolder, opts.Destination, router.Folders)
	}
	if opts.Source == "" {
		opts.Source = "INBOX"
	}
	if opts.Criteria == "" {
		opts.Criteria = "ALL"
	}
	if opts.Limit < 0 {
		opts.Limit = DefaultLimit
	}

	return &Mover{opts: opts, store: store, journal: j, logger: logger}, nil
}

// Run moves up to Limit matching messages from Source to Destination.
// A zero Limit means no limit. Failures of single messages are counted
// in the result and do not stop the run.
func (m *Mover) Run(ctx context.Context) (Result, error) {
	var res Result

	runID := uuid.NewString()
	ctx = logger.WithAttrs(ctx, slog.String("run_id", runID), slog.String("folder", m.opts.Source))

	if err := m.store.Connect(ctx); err != nil {
		return res, err
	}
	defer m.store.Disconnect(ctx)

	if err := m.store.SelectFolder(ctx, m.opts.Source); err != nil {
		return res, err
	}

	refs, err := m.store.Search(ctx, m.opts.Criteria)
	if err != nil {
		return res, err
	}
	m.logger.InfoContext(ctx, fmt.Sprintf("found %d messages", len(refs)))

	for _, ref := range refs {
		if m.opts.Limit > 0 && res.Matched >= m.opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		m.process(logger.WithAttrs(ctx, slog.String("ref", ref)), runID, ref, &res)
	}

	m.logger.InfoContext(ctx, "move finished", slog.Any("result", res))
	return res, nil
}

func (m *Mover) process(ctx context.Context, runID, ref string, res *Result) {
	entry := journal.Entry{
		RunID:    runID,
		Folder:   m.opts.Source,
		Ref:      ref,
		Decision: decisionManual,
		Target:   m.opts.Destination,
	}

	// Without patterns there is nothing to look at, so the body is not fetched.
	if !m.opts.Filter.Empty() {
		raw, err := m.store.Fetch(ctx, ref)
		if err != nil {
			res.Failed++
			m.logger.ErrorContext(ctx, "fetch failed", slog.Any("error", err))
			m.record(ctx, entry, journal.OutcomeFailed, err)
			return
		}

		msg := mailer.Parse(ref, raw)
		if !m.opts.Filter.Match(msg) {
			return
		}
		entry.MessageID = msg.MessageID
		entry.Sender = msg.Sender()
		entry.Subject = msg.Subject
	}
	res.Matched++

	if m.opts.DryRun {
		m.logger.InfoContext(ctx, "would move message",
			slog.String("subject", entry.Subject), slog.String("destination", m.opts.Destination))
		m.record(ctx, entry, journal.OutcomeDryRun, nil)
		return
	}

	if err := m.store.Move(ctx, ref, m.opts.Destination); err != nil {
		res.Failed++
		m.logger.ErrorContext(ctx, "move failed", slog.Any("error", err))
		m.record(ctx, entry, journal.MoveOutcome(err), err)
		return
	}

	res.Moved++
	metrics.MovesTotal.WithLabelValues(m.opts.Destination).Inc()
	m.logger.InfoContext(ctx, "message moved", slog.String("destination", m.opts.Destination))
	m.record(ctx, entry, journal.OutcomeMoved, nil)
}

func (m *Mover) record(ctx context.Context, entry journal.Entry, outcome journal.Outcome, cause error) {
	entry.Outcome = outcome
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := m.journal.Record(ctx, entry); err != nil {
		m.logger.WarnContext(ctx, "journal write failed", slog.Any("error", err))
	}
}
