// Package outbound gates duplicate outbound sends.
//
// Every logical send-intent is reduced to a Fingerprint. A Ledger hands out at
// most one Ticket per fingerprint at a time and, after a successful send,
// suppresses repeats for a short window.
package outbound

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// Send kinds.
const (
	KindText  = "text"
	KindMedia = "media"
	KindLink  = "link"
)

// Fingerprint identifies one logical outbound send-intent.
type Fingerprint struct {
	AccountID  string
	SessionKey string
	Target     string // canonical target ("user:<id>" / "group:<id>")
	Kind       string
	Text       string
	MediaRef   string // URL or local path; when set, Text does not contribute

	// Sequence numbers repeated content: the same text at two sequence numbers
	// are two sends. Zero means unset.
	Sequence int

	// IdempotencyContext scopes the fingerprint (e.g. the run or reply id).
	IdempotencyContext string
}

// Key returns a digest over every field. Content is hashed in full so payloads
// sharing a long prefix never collide.
func (f Fingerprint) Key() string {
	h := blake3.New()
	content := f.Text
	contentTag := "text"
	if f.MediaRef != "" {
		content = f.MediaRef
		contentTag = "media"
	}
	for _, field := range []string{
		f.AccountID,
		f.SessionKey,
		f.Target,
		f.Kind,
		contentTag,
		content,
		strconv.Itoa(f.Sequence),
		f.IdempotencyContext,
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes each field so adjacent fields cannot bleed into each other.
func writeField(h *blake3.Hasher, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.WriteString(s)
}
