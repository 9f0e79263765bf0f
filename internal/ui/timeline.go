package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/mstride/historyd/internal/store"
)

// RenderDay renders one day's items as an indented run timeline. Items
// must be in store order (timestamp ascending): run heads print at the
// margin, run members indent beneath their head.
func RenderDay(dayKey string, items []*store.Item) string {
	var b strings.Builder

	header := DayHeader.Render(dayKey)
	if dayTZChanged(items) {
		header += " " + TZMarker.Render("(timezone changed)")
	}
	b.WriteString(header)
	b.WriteString("\n")

	if len(items) == 0 {
		b.WriteString(Detail.Render("  no items"))
		b.WriteString("\n")
		return b.String()
	}

	for _, it := range items {
		line := renderItem(it)
		if it.TimeBucketID == "" {
			b.WriteString(RunHead.Render(line))
		} else {
			b.WriteString(RunMember.Render(line))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderDays renders multiple days separated by dividers, newest first.
func RenderDays(days []string, itemsByDay map[string][]*store.Item) string {
	var b strings.Builder
	for i, day := range days {
		if i > 0 {
			b.WriteString(Divider.Render(strings.Repeat("─", 40)))
			b.WriteString("\n")
		}
		b.WriteString(RenderDay(day, itemsByDay[day]))
	}
	return b.String()
}

// renderItem formats one item line: local time, kind badge, title, detail.
func renderItem(it *store.Item) string {
	loc := time.FixedZone("", it.TZSeconds)
	ts := TimeStamp.Render(it.Timestamp.In(loc).Format("15:04"))

	line := fmt.Sprintf("%s %s %s", ts, KindBadge(it.Kind), it.Title)
	if detail := itemDetail(it); detail != "" {
		line += " " + Detail.Render(detail)
	}
	return line
}

// itemDetail summarizes the kind-specific fields worth a glance.
func itemDetail(it *store.Item) string {
	switch it.Kind {
	case store.KindTap:
		return fmt.Sprintf("L:%d R:%d", it.LeftCount, it.RightCount)
	case store.KindMedication:
		parts := []string{}
		if it.Dosage != "" {
			parts = append(parts, it.Dosage)
		}
		if it.TimeOfDay != "" {
			parts = append(parts, it.TimeOfDay)
		}
		if !it.Taken {
			parts = append(parts, "not taken")
		}
		return strings.Join(parts, ", ")
	case store.KindSymptom:
		s := fmt.Sprintf("severity %d", it.Severity)
		if it.Note != "" {
			s += ", " + it.Note
		}
		return s
	}
	return ""
}

// dayTZChanged reports whether the day carries the timezone-change flag.
// The flag is day-level: the merge engine sets it on every item of an
// affected day, so the first item answers for all of them.
func dayTZChanged(items []*store.Item) bool {
	return len(items) > 0 && items[0].TZChanged
}
