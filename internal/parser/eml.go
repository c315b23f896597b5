package parser

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EMLParser reads single-message RFC 5322 files. Highest-fidelity format:
// message-ids are expected to be present and reliable.
type EMLParser struct {
	now func() time.Time
}

func NewEMLParser() *EMLParser {
	return &EMLParser{now: time.Now}
}

func (p *EMLParser) Format() Format { return FormatEML }

func (p *EMLParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".eml")
}

func (p *EMLParser) Parse(path string) (*ParsedEmail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatEML, Err: err}
	}
	defer f.Close()

	msg, err := mail.ReadMessage(bufio.NewReader(f))
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatEML, Err: fmt.Errorf("read message: %w", err)}
	}
	return messageToEmail(msg, path, FormatEML, p.now), nil
}

// messageToEmail maps one parsed RFC 5322 message onto a ParsedEmail.
// Shared by the eml, mbox and pst parsers.
func messageToEmail(msg *mail.Message, path string, format Format, now func() time.Time) *ParsedEmail {
	e := &ParsedEmail{
		SourcePath: path,
		Format:     format,
		MessageID:  canonicalMessageID(msg.Header.Get("Message-ID")),
		From:       headerAddress(msg.Header.Get("From")),
		Subject:    decodeHeader(msg.Header.Get("Subject")),
	}

	body, attachments := extractBody(msg.Header, msg.Body)
	e.Attachments = attachments
	return finalize(e, msg.Header.Get("Date"), body, now)
}

// canonicalMessageID strips angle brackets and whitespace.
func canonicalMessageID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.TrimSuffix(raw, ">")
	return raw
}

// headerAddress extracts the bare address from a From header, falling
// back to the decoded raw value when it does not parse as an address.
func headerAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return decodeHeader(raw)
}

// decodeHeader resolves RFC 2047 encoded words, returning the raw value
// when decoding fails.
func decodeHeader(raw string) string {
	raw = strings.TrimSpace(raw)
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(raw); err == nil {
		return decoded
	}
	return raw
}

// extractBody walks the MIME structure, preferring the first text/plain
// part as the body and collecting attachment metadata (never content).
func extractBody(header mail.Header, r io.Reader) (string, []Attachment) {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", nil
		}
		return walkMultipart(multipart.NewReader(r, boundary))
	}

	body, err := decodeTransferEncoding(r, header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return "", nil
	}
	if !strings.HasPrefix(mediaType, "text/") {
		return "", nil
	}
	return body, nil
}

func walkMultipart(mr *multipart.Reader) (string, []Attachment) {
	var body string
	var attachments []Attachment

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		filename := part.FileName()
		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "application/octet-stream"
		}

		switch {
		case filename != "":
			decoded, err := decodeTransferEncoding(part, part.Header.Get("Content-Transfer-Encoding"))
			if err != nil {
				decoded = ""
			}
			attachments = append(attachments, Attachment{
				Filename: decodeHeader(filename),
				Size:     int64(len(decoded)),
				MimeType: partType,
			})
		case strings.HasPrefix(partType, "multipart/"):
			if boundary := partParams["boundary"]; boundary != "" {
				nested, nestedAtt := walkMultipart(multipart.NewReader(part, boundary))
				if body == "" {
					body = nested
				}
				attachments = append(attachments, nestedAtt...)
			}
		case partType == "text/plain" && body == "":
			decoded, err := decodeTransferEncoding(part, part.Header.Get("Content-Transfer-Encoding"))
			if err == nil {
				body = decoded
			}
		}
	}
	return body, attachments
}

func decodeTransferEncoding(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	// Bound reads so a corrupt part cannot exhaust memory.
	data, err := io.ReadAll(io.LimitReader(r, maxBodyChars*4))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
