package parser

import (
	"strings"
	"time"
)

// normalizeBody collapses line endings, trims surrounding whitespace and
// truncates oversized bodies.
func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = strings.TrimSpace(body)
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return body
}

// dateLayouts covers the header date shapes seen across archive exports.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizeDate parses a header date and renders it as RFC3339 UTC. An
// unparseable or empty value degrades to the current timestamp, per the
// missing-metadata policy.
func normalizeDate(raw string, now func() time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
	}
	return now().UTC().Format(time.RFC3339)
}

// finalize fills sentinels, normalizes the body, computes the fingerprint
// and settles the extract status. Every format parser funnels through
// here so the fingerprint stays format-independent.
func finalize(e *ParsedEmail, rawDate, body string, now func() time.Time) *ParsedEmail {
	if e.From == "" {
		e.From = SentinelFrom
	}
	if e.Subject == "" {
		e.Subject = SentinelSubject
	}
	e.Date = normalizeDate(rawDate, now)
	e.Fingerprint = Fingerprint(e.MessageID, e.Date, e.From)

	body = normalizeBody(body)
	if len(body) < minBodyChars {
		e.Body = ""
		e.ExtractStatus = StatusNoContent
	} else {
		e.Body = body
		e.ExtractStatus = StatusSuccess
	}
	if e.Attachments == nil {
		e.Attachments = []Attachment{}
	}
	return e
}
