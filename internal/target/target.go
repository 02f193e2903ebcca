// Package target parses Zalo conversation targets into their canonical form.
//
// Canonical targets are "user:<id>" and "group:<id>". Accepted aliases:
//
//	dm:<id>, u:<id>, u-<id>   → user:<id>
//	g:<id>, g-<id>            → group:<id>
//	<numeric id>              → user:<id>
//
// A leading channel prefix ("zalouser:" or "zlu:") is stripped first.
package target

import (
	"strings"
	"unicode"
)

// Kind distinguishes direct conversations from groups.
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

// Target is a normalized conversation address.
type Target struct {
	Kind Kind
	ID   string
}

// IsGroup reports whether the target addresses a group thread.
func (t Target) IsGroup() bool { return t.Kind == KindGroup }

// String returns the canonical "user:<id>" / "group:<id>" form.
func (t Target) String() string { return string(t.Kind) + ":" + t.ID }

var channelPrefixes = []string{"zalouser:", "zlu:"}

var aliases = []struct {
	prefix string
	kind   Kind
}{
	{"user:", KindUser},
	{"group:", KindGroup},
	{"dm:", KindUser},
	{"u:", KindUser},
	{"g:", KindGroup},
	{"u-", KindUser},
	{"g-", KindGroup},
}

// Parse normalizes raw into a Target. Returns false for blank or
// unparseable input.
func Parse(raw string) (Target, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, false
	}

	lower := strings.ToLower(s)
	for _, p := range channelPrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			lower = strings.ToLower(s)
			break
		}
	}

	for _, a := range aliases {
		if strings.HasPrefix(lower, a.prefix) {
			return build(a.kind, s[len(a.prefix):])
		}
	}

	if isNumeric(s) {
		return Target{Kind: KindUser, ID: s}, true
	}
	return Target{}, false
}

// Normalize returns the canonical string for raw, or "" when raw is invalid.
func Normalize(raw string) string {
	t, ok := Parse(raw)
	if !ok {
		return ""
	}
	return t.String()
}

// FromThread builds a target from a thread id and group flag as reported by zca.
func FromThread(threadID string, isGroup bool) (Target, bool) {
	kind := KindUser
	if isGroup {
		kind = KindGroup
	}
	return build(kind, threadID)
}

func build(kind Kind, id string) (Target, bool) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsFunc(id, unicode.IsSpace) || strings.Contains(id, ":") {
		return Target{}, false
	}
	return Target{Kind: kind, ID: id}, true
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
