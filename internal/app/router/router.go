// Package router maps free-text classification decisions of the form
//
//	Action: <token>. Reason: <text>
//
// onto destination folders.
package router

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Destination folders.
const (
	FolderArchives    = "Archives"
	FolderImportant   = "INBOX/Important"
	FolderNewsletters = "Newsletters"
	FolderSpam        = "Spam"
	FolderTrash       = "Trash"
)

// Folders lists every destination folder.
var Folders = []string{FolderImportant, FolderArchives, FolderNewsletters, FolderSpam, FolderTrash}

// IsFolder reports whether name is one of Folders.
func IsFolder(name string) bool {
	return slices.Contains(Folders, name)
}

// ErrNoAction is wrapped by ParseError when the decision carries
// no recognizable action token.
var ErrNoAction = errors.New("no action token")

// ParseError is returned for decisions which cannot be routed because
// they are malformed. It never indicates a failure of the caller.
type ParseError struct {
	Decision string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse decision %q: %s", e.Decision, ErrNoAction)
}

func (e *ParseError) Unwrap() error { return ErrNoAction }

// Decision is the routing outcome. An empty Folder means the message
// stays where it is.
type Decision struct {
	Action string
	Folder string
	Rule   string
}

// Moves reports whether the decision relocates the message.
func (d Decision) Moves() bool {
	return d.Folder != ""
}

// Rule is a single entry of the routing table. Match receives the
// lower-cased action token and the lower-cased full decision text.
type Rule struct {
	Name   string
	Folder string
	Match  func(action, text string) bool
}

// DefaultRules is the routing table in priority order.
var DefaultRules = []Rule{
	{
		Name:   "archive",
		Folder: FolderArchives,
		Match: func(action, _ string) bool {
			return action == "archive"
		},
	},
	{
		Name:   "important",
		Folder: FolderImportant,
		Match: func(action, text string) bool {
			return action == "important" || (action == "flag" && strings.Contains(text, "important"))
		},
	},
	{
		Name:   "newsletter",
		Folder: FolderNewsletters,
		Match: func(action, text string) bool {
			return action == "newsletter" || (action == "flag" && strings.Contains(text, "newsletter"))
		},
	},
	{
		Name:   "spam",
		Folder: FolderSpam,
		Match: func(action, text string) bool {
			return action == "spam" || strings.Contains(text, "spam")
		},
	},
	{
		Name:   "trash",
		Folder: FolderTrash,
		Match: func(action, text string) bool {
			return action == "trash" || strings.Contains(text, "trash")
		},
	},
}

var actionRe = regexp.MustCompile(`(?i)action:\s*([\p{L}\p{N}_]+)`)

// Router evaluates decisions against an ordered rule table;
// the first matching rule wins.
type Router struct {
	rules []Rule
}

// New returns a Router using rules, or DefaultRules when none are given.
func New(rules ...Rule) *Router {
	if len(rules) == 0 {
		rules = DefaultRules
	}

	return &Router{rules: rules}
}

// Route resolves the destination for decision. It performs no I/O.
// A decision without an action token yields *ParseError and an empty
// Decision; a token no rule matches yields a Decision without folder.
func (r *Router) Route(decision string) (Decision, error) {
	m := actionRe.FindStringSubmatch(decision)
	if m == nil {
		return Decision{}, &ParseError{Decision: decision}
	}

	action := strings.ToLower(m[1])
	text := strings.ToLower(decision)

	for _, rule := range r.rules {
		if rule.Match(action, text) {
			return Decision{Action: action, Folder: rule.Folder, Rule: rule.Name}, nil
		}
	}

	return Decision{Action: action}, nil
}

// Route resolves decision with DefaultRules.
func Route(decision string) (Decision, error) {
	return defaultRouter.Route(decision)
}

var defaultRouter = New()
