// Package parser extracts normalized message metadata from heterogeneous
// email archive files. Each supported format implements the Parser
// contract; the Factory selects an implementation by probing CanParse in
// a fixed priority order. Missing per-message metadata never fails a
// parse: sentinel values keep the fingerprint deterministic instead.
package parser

import (
	"fmt"
	"strings"
)

// Format identifies a supported archive format.
type Format string

const (
	FormatEML  Format = "eml"
	FormatMbox Format = "mbox"
	FormatPST  Format = "pst"
	FormatTxt  Format = "txt"
)

// ExtractStatus reports whether a message carried enough body text to be
// useful as extraction material.
type ExtractStatus string

const (
	StatusSuccess   ExtractStatus = "success"
	StatusNoContent ExtractStatus = "no_content"
)

// Sentinel values substituted for absent metadata. They feed the
// fingerprint, so they must never change once data has been registered.
const (
	SentinelFrom      = "unknown@sentinel.invalid"
	SentinelSubject   = "(no subject)"
	SentinelMessageID = "missing-message-id"
)

const (
	// minBodyChars is the normalized-length threshold below which a body
	// is statistically unreliable as extraction material.
	minBodyChars = 200

	// maxBodyChars caps the body carried downstream.
	maxBodyChars = 100_000
)

// Attachment carries attachment metadata only, never content.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// ParsedEmail is one extracted message. Created once per parse call and
// immutable thereafter.
type ParsedEmail struct {
	Fingerprint   string        `json:"fingerprint"`
	MessageID     string        `json:"messageId,omitempty"`
	From          string        `json:"from"`
	Subject       string        `json:"subject"`
	Date          string        `json:"date"`
	Attachments   []Attachment  `json:"attachments"`
	Body          string        `json:"body,omitempty"`
	SourcePath    string        `json:"sourcePath"`
	Format        Format        `json:"format"`
	ExtractStatus ExtractStatus `json:"extractStatus"`
}

// Parser is the capability contract every format implements.
//
// Parse fails only on a structurally unreadable file; missing optional
// metadata degrades to sentinels. A single Parse call on a multi-message
// container returns exactly one message (the first); iterating the
// remainder is the caller's job via ContainerParser.
type Parser interface {
	CanParse(path string) bool
	Parse(path string) (*ParsedEmail, error)
	Format() Format
}

// ContainerParser is implemented by formats holding more than one message.
type ContainerParser interface {
	Parser

	// Messages splits the container and returns every message in file order.
	Messages(path string) ([]*ParsedEmail, error)
}

// ParseError reports a structurally unreadable source file.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a path no registered parser accepts.
type UnsupportedFormatError struct {
	Path     string
	Accepted []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %s (accepted: %s)", e.Path, strings.Join(e.Accepted, ", "))
}
