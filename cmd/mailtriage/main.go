package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"golang.org/x/sync/errgroup"

	"github.com/hickar/mailtriage/internal/app/classifier"
	"github.com/hickar/mailtriage/internal/app/config"
	"github.com/hickar/mailtriage/internal/app/credential"
	"github.com/hickar/mailtriage/internal/app/daemon"
	"github.com/hickar/mailtriage/internal/app/journal"
	"github.com/hickar/mailtriage/internal/app/mailstore"
	"github.com/hickar/mailtriage/internal/app/metrics"
	"github.com/hickar/mailtriage/internal/app/mover"
	"github.com/hickar/mailtriage/internal/app/router"
	"github.com/hickar/mailtriage/internal/app/triage"
	"github.com/hickar/mailtriage/internal/pkg/kvstore"
	"github.com/hickar/mailtriage/internal/pkg/logger"
)

const decisionTTL = 24 * time.Hour

var (
	configFilepath = flag.String("config", "./config.yaml", "Filepath to configuration file")
	envFilepath    = flag.String("env-file", "./.env", "Filepath to environment variables file")
	dryRun         = flag.Bool("dry-run", false, "Route messages without moving them")
	once           = flag.Bool("once", false, "Run triage once and exit, ignoring poll_interval")
	listFolders    = flag.Bool("list-folders", false, "Print the mailbox folders and exit")
	journalReport  = flag.Int("journal-report", 0, "Print the last N journal entries needing follow-up and exit")

	moveTo       = flag.String("move-to", "", "Move matching messages to this folder and exit, skipping classification")
	moveFrom     = flag.String("move-from", "", "Source folder for -move-to (default: triage folder)")
	moveSearch   = flag.String("move-search", "ALL", "IMAP search criteria for -move-to")
	moveLimit    = flag.Int("move-limit", mover.DefaultLimit, "Maximum number of messages -move-to moves, 0 for no limit")
	subjectMatch = flag.String("subject-match", "", "Only move messages whose subject matches this regular expression")
	senderMatch  = flag.String("sender-match", "", "Only move messages whose sender matches this regular expression")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configFilepath, *envFilepath)
	if err != nil {
		log.Fatalf("failed to load configuration: %s", err)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *once {
		cfg.PollInterval = 0
	}

	l := logger.New(os.Stdout, cfg.Level())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	if err = run(ctx, cfg, l); err != nil && !errors.Is(err, context.Canceled) {
		l.Error(fmt.Sprintf("Application exited with error: %s", err), slog.String("module", "main"))
		cancel()
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, l *slog.Logger) error {
	if *journalReport > 0 {
		return printJournal(ctx, os.Stdout, cfg.JournalPath, *journalReport)
	}

	password, err := credential.Password(credential.OpenSystem, cfg.IMAP.KeyringService, cfg.IMAP.Login, cfg.IMAP.Password)
	if err != nil {
		return fmt.Errorf("load mailbox password: %w", err)
	}

	store := mailstore.NewClient(
		cfg.IMAP.Address(),
		mailstore.Credentials{Login: cfg.IMAP.Login, Password: password},
		newDialer(cfg.IMAP),
		l.With(slog.String("module", "mailstore")),
	)

	if *listFolders {
		return printFolders(ctx, os.Stdout, store)
	}

	var j journal.Journal = journal.Nop{}
	if cfg.JournalPath != "" {
		sj, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer sj.Close()
		j = sj
	}

	if *moveTo != "" {
		return moveMessages(ctx, cfg, store, j, l.With(slog.String("module", "mover")))
	}

	runner := triage.NewRunner(
		triage.Options{
			Folder:      cfg.Triage.Folder,
			Criteria:    cfg.Triage.Criteria,
			TodayOnly:   cfg.Triage.TodayOnly,
			DryRun:      cfg.DryRun,
			Limit:       cfg.Triage.Limit,
			MaxBodySize: cfg.Triage.MaxBodyBytes(),
		},
		store,
		classifier.NewHTTPClassifier(
			&http.Client{},
			classifier.Options{
				URL:      cfg.Classifier.URL,
				APIKey:   cfg.Classifier.APIKey,
				Model:    cfg.Classifier.Model,
				Preamble: cfg.Classifier.Preamble,
				Timeout:  cfg.Classifier.Timeout,
			},
			l.With(slog.String("module", "classifier")),
		),
		router.New(),
		j,
		kvstore.New[string, string](decisionTTL),
		l.With(slog.String("module", "triage")),
	)

	d := daemon.NewDaemon(
		daemon.Settings{PollInterval: cfg.PollInterval, TaskTimeout: cfg.TaskTimeout},
		&daemon.Scheduler{},
		runner,
		l.With(slog.String("module", "daemon")),
	)

	if cfg.MetricsAddress == "" {
		return d.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	dctx, stopMetrics := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopMetrics()
		return d.Start(gctx)
	})
	g.Go(func() error {
		return metrics.Serve(dctx, cfg.MetricsAddress, l.With(slog.String("module", "metrics")))
	})

	return g.Wait()
}

func newDialer(cfg config.IMAPConfig) mailstore.Dialer {
	options := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	if cfg.Debug {
		options.DebugWriter = os.Stderr
	}

	switch cfg.Security {
	case "starttls":
		return mailstore.NewIMAPDialer(imapclient.DialStartTLS, options)
	case "none":
		return mailstore.NewIMAPDialer(imapclient.DialInsecure, options)
	default:
		return mailstore.NewIMAPDialer(imapclient.DialTLS, options)
	}
}

func moveMessages(ctx context.Context, cfg config.Config, store mover.MailStore, j journal.Journal, l *slog.Logger) error {
	filter, err := mover.NewFilter(*subjectMatch, *senderMatch)
	if err != nil {
		return err
	}

	source := *moveFrom
	if source == "" {
		source = cfg.Triage.Folder
	}

	m, err := mover.New(
		mover.Options{
			Source:      source,
			Criteria:    *moveSearch,
			Destination: *moveTo,
			Filter:      filter,
			Limit:       *moveLimit,
			DryRun:      cfg.DryRun,
		},
		store,
		j,
		l,
	)
	if err != nil {
		return err
	}

	_, err = m.Run(ctx)
	return err
}

func printFolders(ctx context.Context, w io.Writer, store *mailstore.Client) error {
	if err := store.Connect(ctx); err != nil {
		return err
	}
	defer store.Disconnect(ctx)

	folders, err := store.ListFolders(ctx)
	if err != nil {
		return err
	}

	for _, folder := range folders {
		fmt.Fprintln(w, folder)
	}

	return nil
}

func printJournal(ctx context.Context, w io.Writer, path string, limit int) error {
	if path == "" {
		return errors.New("journal_path is not configured")
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(ctx, limit, journal.OutcomeDuplicated, journal.OutcomePending, journal.OutcomeFailed)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFOLDER\tREF\tOUTCOME\tTARGET\tSUBJECT\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Folder, e.Ref, e.Outcome, e.Target, e.Subject, e.Error)
	}

	return tw.Flush()
}
