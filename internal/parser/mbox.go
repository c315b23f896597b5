package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MboxParser reads delimiter-separated mailbox files. Each message in the
// container is a full RFC 5322 document preceded by a "From " separator
// line. Parse returns the first message only; Messages iterates the
// whole container.
type MboxParser struct {
	now func() time.Time
}

func NewMboxParser() *MboxParser {
	return &MboxParser{now: time.Now}
}

func (p *MboxParser) Format() Format { return FormatMbox }

func (p *MboxParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mbox")
}

func (p *MboxParser) Parse(path string) (*ParsedEmail, error) {
	raws, err := splitMbox(path)
	if err != nil {
		return nil, err
	}
	return p.parseRaw(raws[0], path)
}

// Messages splits the container and parses every message in file order.
// A message whose headers do not parse is skipped rather than failing
// the container.
func (p *MboxParser) Messages(path string) ([]*ParsedEmail, error) {
	raws, err := splitMbox(path)
	if err != nil {
		return nil, err
	}
	emails := make([]*ParsedEmail, 0, len(raws))
	for _, raw := range raws {
		e, err := p.parseRaw(raw, path)
		if err != nil {
			continue
		}
		emails = append(emails, e)
	}
	if len(emails) == 0 {
		return nil, &ParseError{Path: path, Format: FormatMbox, Err: fmt.Errorf("no parseable messages")}
	}
	return emails, nil
}

func (p *MboxParser) parseRaw(raw []byte, path string) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatMbox, Err: fmt.Errorf("read message: %w", err)}
	}
	return messageToEmail(msg, path, FormatMbox, p.now), nil
}

// splitMbox separates a mailbox file on its "From " envelope lines. mbox
// quoting (">From ") is left untouched inside message bodies.
func splitMbox(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatMbox, Err: err}
	}
	defer f.Close()

	var messages [][]byte
	var current bytes.Buffer

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "From ") {
			if current.Len() > 0 {
				messages = append(messages, append([]byte(nil), current.Bytes()...))
				current.Reset()
			}
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Format: FormatMbox, Err: err}
	}
	if current.Len() > 0 {
		messages = append(messages, current.Bytes())
	}
	if len(messages) == 0 {
		return nil, &ParseError{Path: path, Format: FormatMbox, Err: fmt.Errorf("no messages found")}
	}
	return messages, nil
}
