// Package hashfrag rewrites individual fields of the CloudWatch Logs Insights
// URL fragment while leaving every other field byte-for-byte intact.
//
// A current-format fragment looks like
//
//	#logsV2:logs-insights$3FqueryDetail$3D~(end~'2023-07-21T21*3a59*3a59.000Z~start~'...~timeType~'ABSOLUTE~tz~'UTC~editorString~'fields*20...~queryId~'...~source~(~'group))
//
// Older consoles escaped the inner '~' once more as $257E.
package hashfrag

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/loglens/loglens/internal/urlcodec"
)

// TimestampLayout is the host's absolute timestamp representation
// (JavaScript toISOString: UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrNoTimeRange reports that none of the known time-range layouts matched.
var ErrNoTimeRange = errors.New("hashfrag: no known time-range layout in fragment")

// TimeLayout is one versioned representation of the fragment's time range.
type TimeLayout interface {
	Name() string
	// Rewrite replaces the time range with an absolute UTC range. ok is false
	// when the layout is not present in fragment.
	Rewrite(fragment string, start, end time.Time) (out string, ok bool)
}

// Layouts lists the known time-range layouts, tried in order.
var Layouts = []TimeLayout{
	delimitedLayout{name: "current", delim: "~", quote: "'",
		re: regexp.MustCompile(`(^|[(~])end~.*~timeType~[^~]*~[^~]*~[^~]*~`)},
	delimitedLayout{name: "legacy", delim: "$257E", quote: "$2527",
		re: regexp.MustCompile(`(^|[(~]|\$257E)end\$257E.*?timeType\$257E.*?\$257E.*?\$257E.*?\$257E`)},
}

type delimitedLayout struct {
	name  string
	delim string
	quote string
	re    *regexp.Regexp
}

func (l delimitedLayout) Name() string { return l.name }

func (l delimitedLayout) Rewrite(fragment string, start, end time.Time) (string, bool) {
	loc := l.re.FindStringSubmatchIndex(fragment)
	if loc == nil {
		return fragment, false
	}
	lead := fragment[loc[2]:loc[3]]
	replacement := l.render(start, end)
	return fragment[:loc[0]] + lead + replacement + fragment[loc[1]:], true
}

func (l delimitedLayout) render(start, end time.Time) string {
	parts := []string{
		"end", l.quote + urlcodec.Encode(FormatTimestamp(end)),
		"start", l.quote + urlcodec.Encode(FormatTimestamp(start)),
		"timeType", l.quote + "ABSOLUTE",
		"tz", l.quote + "UTC",
	}
	return strings.Join(parts, l.delim) + l.delim
}

// FormatTimestamp renders t in the host's timestamp format. Sub-millisecond
// precision is truncated.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// TimeWindow returns the range secondsBefore ahead of and secondsAfter past
// center.
func TimeWindow(center time.Time, secondsBefore, secondsAfter int) (start, end time.Time) {
	start = center.Add(-time.Duration(secondsBefore) * time.Second)
	end = center.Add(time.Duration(secondsAfter) * time.Second)
	return start, end
}

// RewriteTimeWindow replaces the fragment's time range with an absolute UTC
// window around center. The fragment is returned unchanged together with
// ErrNoTimeRange when no known layout is present.
func RewriteTimeWindow(fragment string, center time.Time, secondsBefore, secondsAfter int) (string, error) {
	start, end := TimeWindow(center, secondsBefore, secondsAfter)
	for _, layout := range Layouts {
		if out, ok := layout.Rewrite(fragment, start, end); ok {
			return out, nil
		}
	}
	return fragment, ErrNoTimeRange
}

// SplitURL separates a URL from its raw fragment. The fragment excludes '#'.
func SplitURL(raw string) (base, fragment string) {
	base, fragment, _ = strings.Cut(raw, "#")
	return base, fragment
}

// JoinURL reassembles a URL split by SplitURL.
func JoinURL(base, fragment string) string {
	if fragment == "" {
		return base
	}
	return base + "#" + fragment
}

// RewriteURLTimeWindow applies RewriteTimeWindow to the fragment of rawURL.
func RewriteURLTimeWindow(rawURL string, center time.Time, secondsBefore, secondsAfter int) (string, error) {
	base, fragment := SplitURL(rawURL)
	out, err := RewriteTimeWindow(fragment, center, secondsBefore, secondsAfter)
	if err != nil {
		return rawURL, err
	}
	return JoinURL(base, out), nil
}
