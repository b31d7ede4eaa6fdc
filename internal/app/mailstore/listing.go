package mailstore

import (
	"regexp"
	"strings"
)

// Folder is a mailbox as reported by the server listing.
type Folder struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// listLineRe splits a listing line into flags, separator and the remainder
// holding the folder name. The separator is either quoted or a bare atom
// (including NIL) for servers which do not quote it.
var listLineRe = regexp.MustCompile(`^\(([^)]*)\)\s+("(?:[^"\\]|\\.)*"|[^\s"]+)\s+(.+)$`)

// ParseListLine extracts the folder from a single listing line such as
//
//	(\HasNoChildren) "/" "INBOX"
//
// An optional leading "* LIST" is ignored. The name is the last segment
// with surrounding quotes stripped; unquoted names are accepted when they
// form a single atom. Lines of any other shape report false.
func ParseListLine(line string) (Folder, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimPrefix(line, "* LIST"))

	m := listLineRe.FindStringSubmatch(line)
	if m == nil {
		return Folder{}, false
	}

	name, ok := unquoteAtom(strings.TrimSpace(m[3]))
	if !ok || name == "" {
		return Folder{}, false
	}

	var delim string
	if !strings.EqualFold(m[2], "NIL") {
		if delim, ok = unquoteAtom(m[2]); !ok {
			return Folder{}, false
		}
	}

	return Folder{
		Name:       name,
		Delimiter:  delim,
		Attributes: strings.Fields(m[1]),
	}, true
}

func unquoteAtom(s string) (string, bool) {
	if !strings.HasPrefix(s, `"`) {
		if s == "" || strings.ContainsAny(s, "\" \t") {
			return "", false
		}
		return s, true
	}

	if len(s) < 2 || !strings.HasSuffix(s, `"`) {
		return "", false
	}

	body := s[1 : len(s)-1]

	var sb strings.Builder
	sb.Grow(len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]

		switch {
		case c == '\\' && i+1 < len(body):
			i++
			sb.WriteByte(body[i])
		case c == '\\' || c == '"':
			return "", false
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String(), true
}

func quoteAtom(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
