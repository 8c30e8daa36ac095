package classifier

import (
	"strconv"
	"strings"
	"time"

	"voicecore/pkg"
)

// documentFormats is the closed set accepted for the format parameter.
var documentFormats = map[string]string{
	"pdf": "pdf", "docx": "docx", "doc": "docx", "word": "docx",
	"txt": "txt", "text": "txt", "html": "html",
	"markdown": "md", "md": "md",
}

// CoerceValue converts a raw captured string into a typed ParamValue.
// Returns false when the text cannot satisfy the kind.
func CoerceValue(kind pkg.ParamKind, raw string) (pkg.ParamValue, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pkg.ParamValue{}, false
	}

	switch kind {
	case pkg.ParamNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return pkg.ParamValue{}, false
		}
		return pkg.NumberValue(n), true

	case pkg.ParamDate:
		t, ok := parseWhen(raw, time.Now())
		if !ok {
			return pkg.ParamValue{}, false
		}
		return pkg.DateValue(t), true

	case pkg.ParamEmail:
		if !strings.Contains(raw, "@") || !strings.Contains(raw, ".") {
			return pkg.ParamValue{}, false
		}
		return pkg.EmailValue(strings.ToLower(raw)), true

	case pkg.ParamURL:
		return pkg.URLValue(raw), true

	case pkg.ParamFormat:
		norm, ok := documentFormats[strings.ToLower(raw)]
		if !ok {
			return pkg.ParamValue{}, false
		}
		return pkg.FormatValue(norm), true

	default:
		return pkg.StringValue(raw), true
	}
}

var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
	"15:04",
	"3pm",
	"3 pm",
	"3:04pm",
}

// parseWhen resolves a small set of absolute and relative time phrases.
func parseWhen(raw string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))

	switch s {
	case "now":
		return now, true
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, now.Location()), true
	case "tonight":
		return time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, now.Location()), true
	case "tomorrow":
		t := now.AddDate(0, 0, 1)
		return time.Date(t.Year(), t.Month(), t.Day(), 9, 0, 0, 0, now.Location()), true
	case "noon":
		return time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location()), true
	case "next week":
		t := now.AddDate(0, 0, 7)
		return time.Date(t.Year(), t.Month(), t.Day(), 9, 0, 0, 0, now.Location()), true
	}

	// "tomorrow at 3pm" style: resolve the day then the clock part.
	if rest, ok := strings.CutPrefix(s, "tomorrow at "); ok {
		if clock, ok := parseWhen(rest, now); ok {
			t := now.AddDate(0, 0, 1)
			return time.Date(t.Year(), t.Month(), t.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location()), true
		}
	}

	// "in 10 minutes" / "in 2 hours"
	if rest, ok := strings.CutPrefix(s, "in "); ok {
		fields := strings.Fields(rest)
		if len(fields) >= 2 {
			if n, err := strconv.Atoi(fields[0]); err == nil {
				switch {
				case strings.HasPrefix(fields[1], "minute"):
					return now.Add(time.Duration(n) * time.Minute), true
				case strings.HasPrefix(fields[1], "hour"):
					return now.Add(time.Duration(n) * time.Hour), true
				case strings.HasPrefix(fields[1], "day"):
					return now.AddDate(0, 0, n), true
				}
			}
		}
	}

	for _, layout := range whenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Clock-only layouts parse into year 0; pin them to today.
			if t.Year() == 0 {
				t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
				if t.Before(now) {
					t = t.AddDate(0, 0, 1)
				}
			}
			return t, true
		}
	}

	return time.Time{}, false
}
