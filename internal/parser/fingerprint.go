package parser

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives the 64-hex message digest used for deduplication.
// The digest is format-independent: it hashes only the message-id (or its
// sentinel), the normalized date and the sender, in that order.
func Fingerprint(messageID, date, from string) string {
	if messageID == "" {
		messageID = SentinelMessageID
	}
	h := sha256.New()
	h.Write([]byte(messageID))
	h.Write([]byte(date))
	h.Write([]byte(from))
	return hex.EncodeToString(h.Sum(nil))
}
