package parser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// pstExtractTimeout bounds the external extraction subprocess.
const pstExtractTimeout = 2 * time.Minute

// PSTParser handles externally-extracted mail-store archives. Extraction
// shells out to readpst, which explodes the archive into per-message
// .eml files in a temp dir; each extracted message is then parsed by the
// shared RFC 5322 path. Message-ids survive extraction for most but not
// all store versions, so the format carries a medium reliability rating.
type PSTParser struct {
	now func() time.Time

	// binary is the extraction executable, overridable for tests.
	binary string
}

func NewPSTParser() *PSTParser {
	return &PSTParser{now: time.Now, binary: "readpst"}
}

func (p *PSTParser) Format() Format { return FormatPST }

func (p *PSTParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pst")
}

func (p *PSTParser) Parse(path string) (*ParsedEmail, error) {
	emails, err := p.Messages(path)
	if err != nil {
		return nil, err
	}
	return emails[0], nil
}

// Messages extracts the archive and parses every message in extracted
// file order. The SourcePath of each result points at the original
// archive, not the temp file.
func (p *PSTParser) Messages(path string) ([]*ParsedEmail, error) {
	dir, err := os.MkdirTemp("", "pst-extract-*")
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatPST, Err: err}
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(context.Background(), pstExtractTimeout)
	defer cancel()

	// -e writes one .eml per message, -o sets the output dir.
	cmd := exec.CommandContext(ctx, p.binary, "-e", "-o", dir, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, &ParseError{Path: path, Format: FormatPST,
			Err: fmt.Errorf("extract: %w: %s", err, strings.TrimSpace(string(out)))}
	}

	var extracted []string
	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".eml") {
			extracted = append(extracted, p)
		}
		return nil
	})
	if err != nil {
		return nil, &ParseError{Path: path, Format: FormatPST, Err: err}
	}
	if len(extracted) == 0 {
		return nil, &ParseError{Path: path, Format: FormatPST, Err: fmt.Errorf("no messages extracted")}
	}
	sort.Strings(extracted)

	eml := &EMLParser{now: p.now}
	emails := make([]*ParsedEmail, 0, len(extracted))
	for _, file := range extracted {
		e, err := eml.Parse(file)
		if err != nil {
			continue
		}
		e.SourcePath = path
		e.Format = FormatPST
		emails = append(emails, e)
	}
	if len(emails) == 0 {
		return nil, &ParseError{Path: path, Format: FormatPST, Err: fmt.Errorf("no parseable messages")}
	}
	return emails, nil
}
