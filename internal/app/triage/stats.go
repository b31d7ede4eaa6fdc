package triage

import (
	"log/slog"
	"maps"
	"slices"
)

// Stats summarizes a triage run.
type Stats struct {
	Processed int            // messages classified
	Moved     int            // messages moved, or that would have been moved in a dry run
	Skipped   int            // decisions without an action token
	Filtered  int            // messages excluded by the date filter
	Held      int            // messages left by an earlier partial move, not retried
	Errors    int            // per-message failures
	ByFolder  map[string]int // moves per destination folder
}

func newStats() Stats {
	return Stats{ByFolder: make(map[string]int)}
}

// Folders returns destination folders in lexical order.
func (s Stats) Folders() []string {
	return slices.Sorted(maps.Keys(s.ByFolder))
}

func (s Stats) LogValue() slog.Value {
	folders := make([]slog.Attr, 0, len(s.ByFolder))
	for _, folder := range s.Folders() {
		folders = append(folders, slog.Int(folder, s.ByFolder[folder]))
	}

	return slog.GroupValue(
		slog.Int("processed", s.Processed),
		slog.Int("moved", s.Moved),
		slog.Int("skipped", s.Skipped),
		slog.Int("filtered", s.Filtered),
		slog.Int("held", s.Held),
		slog.Int("errors", s.Errors),
		slog.Attr{Key: "folders", Value: slog.GroupValue(folders...)},
	)
}
