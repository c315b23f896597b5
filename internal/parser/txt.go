package parser

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TxtParser handles plain-text export files produced by desktop mail
// clients. These exports carry no message-id and frequently no headers
// at all, so everything degrades to sentinels and downstream items are
// capped at the lowest confidence ceiling.
type TxtParser struct {
	now func() time.Time
}

func NewTxtParser() *TxtParser {
	return &TxtParser{now: time.Now}
}

func (p *TxtParser) Format() Format { return FormatTxt }

func (p *TxtParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

// headerScanLimit bounds the header probe; exports put any recoverable
// metadata in the first few lines.
const headerScanLimit = 30

func (p *TxtParser) Parse(path string) (*ParsedEmail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatTxt, Err: err}
	}
	defer f.Close()

	e := &ParsedEmail{
		SourcePath: path,
		Format:     FormatTxt,
	}

	var rawDate string
	var body strings.Builder

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++
		if lineNo <= headerScanLimit {
			if v, ok := headerValue(line, "from"); ok && e.From == "" {
				e.From = headerAddress(v)
				continue
			}
			if v, ok := headerValue(line, "subject"); ok && e.Subject == "" {
				e.Subject = v
				continue
			}
			if v, ok := headerValue(line, "date"); ok && rawDate == "" {
				rawDate = v
				continue
			}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Format: FormatTxt, Err: err}
	}

	return finalize(e, rawDate, body.String(), p.now), nil
}

// headerValue matches a "Name: value" line case-insensitively.
func headerValue(line, name string) (string, bool) {
	if len(line) <= len(name)+1 {
		return "", false
	}
	if !strings.EqualFold(line[:len(name)], name) || line[len(name)] != ':' {
		return "", false
	}
	return strings.TrimSpace(line[len(name)+1:]), true
}

var _ Parser = (*TxtParser)(nil)
var _ Parser = (*EMLParser)(nil)
var _ ContainerParser = (*MboxParser)(nil)
var _ ContainerParser = (*PSTParser)(nil)
