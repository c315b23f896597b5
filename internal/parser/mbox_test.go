package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mboxFixture(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "From sender%d@example.com Mon Jun  2 10:30:00 2025\n", i)
		fmt.Fprintf(&b, "Message-ID: <msg-%d@example.com>\n", i)
		fmt.Fprintf(&b, "From: sender%d@example.com\n", i)
		fmt.Fprintf(&b, "Subject: Message %d\n", i)
		b.WriteString("Date: Mon, 02 Jun 2025 10:30:00 +0000\n")
		b.WriteString("\n")
		b.WriteString(longBody(300))
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestMboxParseReturnsFirstMessageOnly(t *testing.T) {
	path := writeFile(t, "three.mbox", mboxFixture(3))

	p := &MboxParser{now: fixedNow}
	e, err := p.Parse(path)
	require.NoError(t, err)

	assert.Equal(t, "msg-0@example.com", e.MessageID)
	assert.Equal(t, "sender0@example.com", e.From)
	assert.Equal(t, "Message 0", e.Subject)
}

func TestMboxMessagesDistinctFingerprints(t *testing.T) {
	path := writeFile(t, "three.mbox", mboxFixture(3))

	p := &MboxParser{now: fixedNow}
	emails, err := p.Messages(path)
	require.NoError(t, err)
	require.Len(t, emails, 3)

	seen := map[string]bool{}
	for _, e := range emails {
		assert.False(t, seen[e.Fingerprint], "fingerprint repeated: %s", e.Fingerprint)
		seen[e.Fingerprint] = true
	}

	first, err := p.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, emails[0].Fingerprint, first.Fingerprint)
	assert.NotEqual(t, first.Fingerprint, emails[1].Fingerprint)
	assert.NotEqual(t, first.Fingerprint, emails[2].Fingerprint)
}

func TestMboxEmptyFileFails(t *testing.T) {
	path := writeFile(t, "empty.mbox", "")

	p := NewMboxParser()
	_, err := p.Parse(path)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
