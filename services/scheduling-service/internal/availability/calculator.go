package availability

import (
	"fmt"
	"sort"
)

// Window is one open interval of a doctor's day, half-open [Start, End) in
// "HH:MM" clock strings.
type Window struct {
	Start string
	End   string
}

// HourBucket is the display aggregate for one clock hour.
type HourBucket struct {
	Hour        int    `json:"hour"`
	Capacity    int    `json:"capacity"`
	BookedCount int    `json:"booked_count"`
	IsFull      bool   `json:"is_full"`
	LabelFrom   string `json:"label_from"`
	LabelTo     string `json:"label_to"`
}

// Snapshot is the derived availability for one (doctor, date). It is a pure
// function of the working windows, the slot period and the non-cancelled
// appointment times at the instant of computation.
type Snapshot struct {
	PeriodMinutes int          `json:"period_minutes"`
	Hours         []HourBucket `json:"hours"`
}

// Compute builds the hour buckets for a day. Hours touched by no window are
// absent from the result; an hour covered only partially gets its capacity
// from the clipped minutes, not a flat 60.
func Compute(windows []Window, periodMinutes int, bookedTimes []string) Snapshot {
	if periodMinutes <= 0 {
		periodMinutes = 15
	}

	bookedByHour := make(map[int]int, len(bookedTimes))
	for _, t := range bookedTimes {
		if m, ok := minuteOfDay(t); ok {
			bookedByHour[m/60]++
		}
	}

	snap := Snapshot{PeriodMinutes: periodMinutes, Hours: []HourBucket{}}
	for hour := 0; hour < 24; hour++ {
		capacity, from, to, covered := hourClip(windows, periodMinutes, hour)
		if !covered {
			continue
		}
		booked := bookedByHour[hour]
		if booked > capacity {
			booked = capacity
		}
		snap.Hours = append(snap.Hours, HourBucket{
			Hour:        hour,
			Capacity:    capacity,
			BookedCount: booked,
			IsFull:      booked == capacity,
			LabelFrom:   formatMinute(from),
			LabelTo:     formatMinute(to),
		})
	}
	return snap
}

// SlotTimes enumerates the concrete bookable times inside one clock hour,
// clipped to the windows, ascending. len(SlotTimes(...)) always equals the
// hour's capacity, and the first element is the earliest-available tie-break
// for "any free time inside this hour" requests.
func SlotTimes(windows []Window, periodMinutes, hour int) []string {
	if periodMinutes <= 0 {
		periodMinutes = 15
	}
	hourStart, hourEnd := hour*60, (hour+1)*60

	var times []string
	for _, w := range windows {
		ws, ok1 := minuteOfDay(w.Start)
		we, ok2 := minuteOfDay(w.End)
		if !ok1 || !ok2 || we <= ws {
			continue
		}
		from := max(ws, hourStart)
		to := min(we, hourEnd)
		for t := from; t+periodMinutes <= to; t += periodMinutes {
			times = append(times, formatMinute(t))
		}
	}
	sort.Strings(times)
	return times
}

// HourOf returns the clock hour of an "HH:MM" time, or -1 if malformed.
func HourOf(t string) int {
	m, ok := minuteOfDay(t)
	if !ok {
		return -1
	}
	return m / 60
}

// hourClip computes one hour's capacity and label boundaries from the
// windows overlapping it.
func hourClip(windows []Window, periodMinutes, hour int) (capacity, from, to int, covered bool) {
	hourStart, hourEnd := hour*60, (hour+1)*60
	from, to = -1, -1
	for _, w := range windows {
		ws, ok1 := minuteOfDay(w.Start)
		we, ok2 := minuteOfDay(w.End)
		if !ok1 || !ok2 || we <= ws {
			continue
		}
		ovStart := max(ws, hourStart)
		ovEnd := min(we, hourEnd)
		if ovEnd <= ovStart {
			continue
		}
		covered = true
		capacity += (ovEnd - ovStart) / periodMinutes
		if from == -1 || ovStart < from {
			from = ovStart
		}
		if ovEnd > to {
			to = ovEnd
		}
	}
	return capacity, from, to, covered
}

func minuteOfDay(t string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(t, "%02d:%02d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || len(t) != 5 || t[2] != ':' {
		return 0, false
	}
	return h*60 + m, true
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
