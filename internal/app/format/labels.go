// Package format turns timestamps and message bodies into display labels.
package format

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatsync/internal/domain/chat"
)

const (
	PhotoPreview     = "Sent a photo"
	previewMaxRunes  = 80
	absoluteLayout   = "Jan 2, 2006 at 3:04 PM"
	shortDayLayout   = "Jan 2"
	shortYearLayout  = "Jan 2, 2006"
	bucketDayLayout  = "January 2"
	bucketYearLayout = "January 2, 2006"
)

// Relative renders t for a conversation list row.
func Relative(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.IsZero() {
		now = time.Now()
	}
	t = t.In(now.Location())
	delta := now.Sub(t)
	if delta < time.Minute {
		return "just now"
	}
	if delta < time.Hour {
		return fmt.Sprintf("%dm", int(delta.Minutes()))
	}
	days := daysBetween(t, now)
	switch {
	case days <= 0:
		return fmt.Sprintf("%dh", int(delta.Hours()))
	case days == 1:
		return "Yesterday"
	case days < 7:
		return t.Weekday().String()
	case t.Year() == now.Year():
		return t.Format(shortDayLayout)
	default:
		return t.Format(shortYearLayout)
	}
}

// Absolute renders t in loc; a nil loc keeps t's own location.
func Absolute(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(absoluteLayout)
}

// DayBucket names the calendar day t falls on, relative to now.
func DayBucket(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.IsZero() {
		now = time.Now()
	}
	t = t.In(now.Location())
	days := daysBetween(t, now)
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days < 7:
		return t.Weekday().String()
	case t.Year() == now.Year():
		return t.Format(bucketDayLayout)
	default:
		return t.Format(bucketYearLayout)
	}
}

type DayGroup struct {
	Label    string
	Messages []chat.Message
}

// GroupByDay splits an ordered message list into consecutive day groups.
func GroupByDay(messages []chat.Message, now time.Time) []DayGroup {
	groups := make([]DayGroup, 0)
	for _, msg := range messages {
		label := DayBucket(msg.SentAt, now)
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Messages = append(groups[n-1].Messages, msg)
			continue
		}
		groups = append(groups, DayGroup{Label: label, Messages: []chat.Message{msg}})
	}
	return groups
}

// PreviewText builds the last-message preview shown in a conversation row.
func PreviewText(text, attachmentURL string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		if strings.TrimSpace(attachmentURL) != "" {
			return PhotoPreview
		}
		return ""
	}
	if utf8.RuneCountInString(text) <= previewMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewMaxRunes-1]) + "…"
}

func daysBetween(t, now time.Time) int {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	start := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	end := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
