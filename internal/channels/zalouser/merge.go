package zalouser

import (
	"regexp"
	"strings"
)

// commandPattern marks texts that must not be buried under earlier chatter.
var commandPattern = regexp.MustCompile(`^([/!]|@\S)`)

// mergeEvents coalesces a debounced burst into one event. Entries are in
// arrival order.
func mergeEvents(items []InboundEvent) InboundEvent {
	switch len(items) {
	case 0:
		return InboundEvent{}
	case 1:
		return items[0]
	}

	first, last := items[0], items[len(items)-1]
	out := first
	out.Raw = last.Raw

	var texts []string
	seenText := make(map[string]bool)
	for _, it := range items {
		t := strings.TrimSpace(it.Text)
		if t == "" || seenText[t] {
			continue
		}
		seenText[t] = true
		texts = append(texts, t)
	}
	if lastText := strings.TrimSpace(last.Text); commandPattern.MatchString(lastText) {
		out.Text = lastText
	} else {
		out.Text = strings.Join(texts, "\n")
	}

	out.MediaPaths, out.MediaURLs, out.MediaTypes, out.Mentions = nil, nil, nil, nil
	for _, it := range items {
		out.MediaPaths = appendUnique(out.MediaPaths, it.MediaPaths...)
		out.MediaURLs = appendUnique(out.MediaURLs, it.MediaURLs...)
		out.MediaTypes = appendUnique(out.MediaTypes, it.MediaTypes...)
		out.Mentions = appendUnique(out.Mentions, it.Mentions...)
	}

	for _, it := range items[1:] {
		fillEmpty(&out.SenderName, it.SenderName)
		fillEmpty(&out.MsgID, it.MsgID)
		fillEmpty(&out.CliMsgID, it.CliMsgID)
		fillEmpty(&out.QuoteMsgID, it.QuoteMsgID)
		fillEmpty(&out.QuoteCliMsgID, it.QuoteCliMsgID)
		fillEmpty(&out.QuoteText, it.QuoteText)
		fillEmpty(&out.QuoteSender, it.QuoteSender)
		if it.Timestamp > out.Timestamp {
			out.Timestamp = it.Timestamp
		}
	}
	if out.Timestamp <= 0 {
		out.Timestamp = first.Timestamp
	}
	return out
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		if v == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
