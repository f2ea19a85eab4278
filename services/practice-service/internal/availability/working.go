// Package availability computes when a staff member can take a booking:
// weekly working hours in the location's zone, minus appointments and time
// off, clipped to a query range.
package availability

import (
	"iter"
	"sort"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
)

// Working yields the merged working-hours intervals of shifts that fall in
// [from, to), in order. Local wall-clock times are resolved per calendar day
// so each instant carries the zone offset in force on that day.
func Working(shifts []model.Shift, loc *time.Location, from, to time.Time) iter.Seq[model.Interval] {
	return func(yield func(model.Interval) bool) {
		if !from.Before(to) || len(shifts) == 0 {
			return
		}
		byDay := make(map[time.Weekday][]model.Shift, 7)
		for _, s := range shifts {
			byDay[s.Weekday] = append(byDay[s.Weekday], s)
		}
		for _, list := range byDay {
			sort.Slice(list, func(i, j int) bool { return list[i].StartMinute < list[j].StartMinute })
		}

		// Start a day early so a shift that spans midnight into from is seen.
		first := from.In(loc)
		y, m, d := first.Date()
		last := to.In(loc)

		var pending model.Interval
		have := false
		for i := -1; ; i++ {
			day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
			if day.After(last) {
				break
			}
			for _, s := range byDay[day.Weekday()] {
				iv := shiftInterval(s, day, loc)
				iv = clip(iv, from, to)
				if iv.Empty() {
					continue
				}
				if have && !iv.Start.After(pending.End) {
					if iv.End.After(pending.End) {
						pending.End = iv.End
					}
					continue
				}
				if have && !yield(pending) {
					return
				}
				pending, have = iv, true
			}
		}
		if have {
			yield(pending)
		}
	}
}

func shiftInterval(s model.Shift, day time.Time, loc *time.Location) model.Interval {
	y, m, d := day.Date()
	start := time.Date(y, m, d, s.StartMinute/60, s.StartMinute%60, 0, 0, loc)
	endDay := d
	if s.SpansMidnight() {
		endDay++
	}
	end := time.Date(y, m, endDay, s.EndMinute/60, s.EndMinute%60, 0, 0, loc)
	return model.Interval{Start: start.UTC(), End: end.UTC()}
}

func clip(iv model.Interval, from, to time.Time) model.Interval {
	if iv.Start.Before(from) {
		iv.Start = from
	}
	if iv.End.After(to) {
		iv.End = to
	}
	return iv
}

// Covers reports whether iv lies entirely inside working hours.
func Covers(shifts []model.Shift, loc *time.Location, iv model.Interval) bool {
	if iv.Empty() {
		return false
	}
	for w := range Working(shifts, loc, iv.Start, iv.End) {
		return w.Contains(iv)
	}
	return false
}

// subtract yields the parts of w not covered by busy, which must be sorted
// by start.
func subtract(w model.Interval, busy []model.Interval, yield func(model.Interval) bool) bool {
	cur := w.Start
	for _, b := range busy {
		if !b.End.After(cur) {
			continue
		}
		if !b.Start.Before(w.End) {
			break
		}
		if b.Start.After(cur) {
			if !yield(model.Interval{Start: cur, End: b.Start}) {
				return false
			}
		}
		if b.End.After(cur) {
			cur = b.End
		}
	}
	if cur.Before(w.End) {
		return yield(model.Interval{Start: cur, End: w.End})
	}
	return true
}
