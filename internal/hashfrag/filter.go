package hashfrag

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/loglens/loglens/internal/urlcodec"
)

// ErrNoQueryField reports a fragment without an editorString field.
var ErrNoQueryField = errors.New("hashfrag: no query field in fragment")

// Encoded values never contain a literal '~' or ')', so the value ends at the
// first of either.
var queryField = regexp.MustCompile(`~editorString~'([^~)]*)`)

// The heuristic only recognises the common single-line
// "| filter @message ..." layout; it is not a query-language parser.
var messageFilter = regexp.MustCompile(`(?im)(?:^|\|)[ \t]*filter[ \t]+@message[ \t]+.*$`)

// Query decodes the Logs Insights query text carried by fragment.
func Query(fragment string) (string, error) {
	loc := queryField.FindStringSubmatchIndex(fragment)
	if loc == nil {
		return "", ErrNoQueryField
	}
	query, err := urlcodec.Decode(fragment[loc[2]:loc[3]])
	if err != nil {
		return "", fmt.Errorf("decode query field: %w", err)
	}
	return query, nil
}

// ReplaceQuery encodes query and splices it into the position of the existing
// query field.
func ReplaceQuery(fragment, query string) (string, error) {
	loc := queryField.FindStringSubmatchIndex(fragment)
	if loc == nil {
		return fragment, ErrNoQueryField
	}
	return fragment[:loc[2]] + urlcodec.Encode(query) + fragment[loc[3]:], nil
}

// AddFilterClause extends query with clause. When the query already filters
// on @message, the clause is or-joined on the line after the first such
// filter; otherwise a new "| filter" line is appended.
func AddFilterClause(query, clause string) string {
	clause = strings.TrimSpace(clause)
	if loc := messageFilter.FindStringIndex(query); loc != nil {
		return query[:loc[1]] + "\n  or " + clause + query[loc[1]:]
	}
	if query != "" && !strings.HasSuffix(query, "\n") {
		query += "\n"
	}
	return query + "| filter " + clause
}

// AppendFilterClause rewrites the fragment's query with AddFilterClause.
func AppendFilterClause(fragment, clause string) (string, error) {
	query, err := Query(fragment)
	if err != nil {
		return fragment, err
	}
	return ReplaceQuery(fragment, AddFilterClause(query, clause))
}

// AppendURLFilterClause applies AppendFilterClause to the fragment of rawURL.
func AppendURLFilterClause(rawURL, clause string) (string, error) {
	base, fragment := SplitURL(rawURL)
	out, err := AppendFilterClause(fragment, clause)
	if err != nil {
		return rawURL, err
	}
	return JoinURL(base, out), nil
}
