package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hickar/mailtriage/internal/app/journal"
	"github.com/hickar/mailtriage/internal/app/mailer"
	"github.com/hickar/mailtriage/internal/app/mailstore"
	"github.com/hickar/mailtriage/internal/app/metrics"
	"github.com/hickar/mailtriage/internal/app/router"
	"github.com/hickar/mailtriage/internal/pkg/kvstore"
	"github.com/hickar/mailtriage/internal/pkg/logger"
)

type MailStore interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	SelectFolder(ctx context.Context, name string) error
	Search(ctx context.Context, criteria string) ([]string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Move(ctx context.Context, ref, destination string) error
}

type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

type Router interface {
	Route(decision string) (router.Decision, error)
}

type Options struct {
	Folder      string
	Criteria    string
	TodayOnly   bool
	DryRun      bool
	Limit       int
	MaxBodySize int
}

// TaskRunner performs triage runs over a single mail store session.
type TaskRunner struct {
	opts       Options
	store      MailStore
	classifier Classifier
	router     Router
	journal    journal.Journal
	decisions  *kvstore.KVStore[string, string]
	held       *kvstore.KVStore[heldKey, journal.Outcome]
	logger     *slog.Logger
	now        func() time.Time
}

// heldKey identifies a message left behind by a partial move. UIDs stay
// stable inside a folder, so the pair survives across runs.
type heldKey struct {
	folder string
	ref    string
}

func NewRunner(
	opts Options,
	store MailStore,
	classifier Classifier,
	router Router,
	jrnl journal.Journal,
	decisions *kvstore.KVStore[string, string],
	logger *slog.Logger,
) *TaskRunner {
	return &TaskRunner{
		opts:       opts,
		store:      store,
		classifier: classifier,
		router:     router,
		journal:    jrnl,
		decisions:  decisions,
		held:       kvstore.New[heldKey, journal.Outcome](0),
		logger:     logger,
		now:        time.Now,
	}
}

// Run connects to the mail store, triages matching messages of the
// configured folder one by one and disconnects.
//
// Failing to connect, select the folder or search aborts the run. Any
// failure concerning a single message is logged, counted and journaled,
// then the run continues with the next message. Messages whose move stopped
// after COPY are not touched again by later runs of this runner.
func (r *TaskRunner) Run(ctx context.Context) (Stats, error) {
	stats := newStats()
	runID := uuid.NewString()
	ctx = logger.WithAttrs(ctx, slog.String("run_id", runID))

	r.logger.InfoContext(ctx, "starting triage",
		slog.String("folder", r.opts.Folder),
		slog.String("criteria", r.opts.Criteria),
		slog.Bool("dry_run", r.opts.DryRun),
	)

	refs, err := r.open(ctx)
	defer r.store.Disconnect(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		r.logger.ErrorContext(ctx, "triage aborted", slog.Any("error", err))
		return stats, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("found %d messages", len(refs)))

	if cached := r.decisions.Purge(); cached > 0 {
		r.logger.DebugContext(ctx, "decision cache purged", slog.Int("cached", cached))
	}

	for _, ref := range refs {
		if err = ctx.Err(); err != nil {
			break
		}
		if r.opts.Limit > 0 && stats.Processed >= r.opts.Limit {
			r.logger.InfoContext(ctx, "message limit reached", slog.Int("limit", r.opts.Limit))
			break
		}

		if outcome, held := r.held.Get(heldKey{folder: r.opts.Folder, ref: ref}); held {
			stats.Held++
			r.logger.DebugContext(ctx, "message awaits manual follow-up",
				slog.String("ref", ref),
				slog.String("outcome", string(outcome)),
			)
			continue
		}

		r.process(logger.WithAttrs(ctx, slog.String("ref", ref)), runID, ref, &stats)
	}

	if stats.Held > 0 {
		r.logger.WarnContext(ctx, fmt.Sprintf("%d messages left by partial moves await manual follow-up", stats.Held))
	}
	r.logger.InfoContext(ctx, "triage finished", slog.Any("stats", stats))

	if err != nil {
		metrics.RunsTotal.WithLabelValues("canceled").Inc()
		return stats, err
	}

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	return stats, nil
}

func (r *TaskRunner) open(ctx context.Context) ([]string, error) {
	if err := r.store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := r.store.SelectFolder(ctx, r.opts.Folder); err != nil {
		return nil, fmt.Errorf("select folder %q: %w", r.opts.Folder, err)
	}

	refs, err := r.store.Search(ctx, r.opts.Criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return refs, nil
}

// process handles one message: fetch, classify, route, move.
// It never returns an error; the outcome is reflected in stats.
func (r *TaskRunner) process(ctx context.Context, runID, ref string, stats *Stats) {
	entry := journal.Entry{RunID: runID, Folder: r.opts.Folder, Ref: ref}

	raw, err := r.store.Fetch(ctx, ref)
	if err != nil {
		stats.Errors++
		r.logger.ErrorContext(ctx, "fetch failed", slog.Any("error", err))
		r.record(ctx, entry, journal.OutcomeFailed, err)
		return
	}

	msg := mailer.Parse(ref, raw)
	entry.MessageID = msg.MessageID
	entry.Sender = msg.Sender()
	entry.Subject = msg.Subject

	if r.opts.TodayOnly && !msg.SentOn(r.now()) {
		stats.Filtered++
		if msg.Date.IsZero() {
			r.logger.WarnContext(ctx, "skipping message without usable date", slog.String("date", msg.DateHeader))
		} else {
			r.logger.DebugContext(ctx, "skipping message not sent today", slog.Time("date", msg.Date))
		}
		return
	}

	stats.Processed++

	decisionText, err := r.classify(ctx, msg)
	if err != nil {
		stats.Errors++
		r.logger.ErrorContext(ctx, "classification failed", slog.Any("error", err))
		r.record(ctx, entry, journal.OutcomeFailed, err)
		return
	}
	entry.Decision = decisionText

	decision, err := r.router.Route(decisionText)
	if err != nil {
		stats.Skipped++
		r.logger.WarnContext(ctx, "unrecognized decision, leaving message in place", slog.Any("error", err))
		r.record(ctx, entry, journal.OutcomeSkipped, err)
		return
	}

	if !decision.Moves() {
		r.logger.InfoContext(ctx, "no action", slog.String("action", decision.Action), slog.String("subject", msg.Subject))
		r.record(ctx, entry, journal.OutcomeKept, nil)
		return
	}
	entry.Target = decision.Folder

	if r.opts.DryRun {
		stats.Moved++
		stats.ByFolder[decision.Folder]++
		r.logger.InfoContext(ctx, "dry run, message would be moved",
			slog.String("destination", decision.Folder),
			slog.String("subject", msg.Subject),
		)
		r.record(ctx, entry, journal.OutcomeDryRun, nil)
		return
	}

	if err = r.store.Move(ctx, ref, decision.Folder); err != nil {
		stats.Errors++
		r.logger.ErrorContext(ctx, "move failed",
			slog.String("destination", decision.Folder),
			slog.Any("error", err),
		)
		outcome := moveOutcome(err)
		if outcome == journal.OutcomeDuplicated || outcome == journal.OutcomePending {
			r.held.Set(heldKey{folder: r.opts.Folder, ref: ref}, outcome)
		}
		r.record(ctx, entry, outcome, err)
		return
	}

	stats.Moved++
	stats.ByFolder[decision.Folder]++
	metrics.MovesTotal.WithLabelValues(decision.Folder).Inc()
	if msg.MessageID != "" {
		r.decisions.Remove(msg.MessageID)
	}

	r.logger.InfoContext(ctx, "message moved",
		slog.String("destination", decision.Folder),
		slog.String("subject", msg.Subject),
	)
	r.record(ctx, entry, journal.OutcomeMoved, nil)
}

// classify returns the decision for msg, reusing an earlier decision for
// the same Message-ID.
func (r *TaskRunner) classify(ctx context.Context, msg *mailer.Message) (string, error) {
	if msg.MessageID != "" {
		if decision, ok := r.decisions.Get(msg.MessageID); ok {
			r.logger.DebugContext(ctx, "reusing cached decision")
			return decision, nil
		}
	}

	start := time.Now()
	decision, err := r.classifier.Classify(ctx, msg.ClassifierInput(r.opts.MaxBodySize))
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	if msg.MessageID != "" {
		r.decisions.Set(msg.MessageID, decision)
	}

	return decision, nil
}

func (r *TaskRunner) record(ctx context.Context, entry journal.Entry, outcome journal.Outcome, cause error) {
	metrics.MessagesTotal.WithLabelValues(string(outcome)).Inc()

	entry.Outcome = outcome
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := r.journal.Record(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "journal write failed", slog.Any("error", err))
	}
}

func moveOutcome(err error) journal.Outcome {
	var moveErr *mailstore.MoveError
	if errors.As(err, &moveErr) {
		metrics.MoveFailuresTotal.WithLabelValues(string(moveErr.Stage)).Inc()
	}

	return journal.MoveOutcome(err)
}
