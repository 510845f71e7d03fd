package model

import "time"

// Weekday bit values, fixed by the days mask encoding: Sunday=2, Monday=4,
// Tuesday=8, Wednesday=16, Thursday=32, Friday=64, Saturday=128.
const (
	BitSunday    uint8 = 1 << 1
	BitMonday    uint8 = 1 << 2
	BitTuesday   uint8 = 1 << 3
	BitWednesday uint8 = 1 << 4
	BitThursday  uint8 = 1 << 5
	BitFriday    uint8 = 1 << 6
	BitSaturday  uint8 = 1 << 7
)

var weekdayBits = [7]uint8{
	time.Sunday:    BitSunday,
	time.Monday:    BitMonday,
	time.Tuesday:   BitTuesday,
	time.Wednesday: BitWednesday,
	time.Thursday:  BitThursday,
	time.Friday:    BitFriday,
	time.Saturday:  BitSaturday,
}

// WeekdayBit returns the days-mask bit for a time.Weekday.
func WeekdayBit(d time.Weekday) uint8 { return weekdayBits[d] }

// ShouldBeOn evaluates the schedule against a wall-clock instant, per the
// scheduler's drift-correction rule: on_time <= off_time means the ON
// window is [on_time, off_time); on_time > off_time means it wraps past
// midnight, [on_time, 24:00) union [00:00, off_time). The relay is only
// ever ON if today's weekday bit is set.
func (s Schedule) ShouldBeOn(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if weekdayBits[now.Weekday()]&s.DaysMask == 0 {
		return false
	}
	onMin, okOn := parseHHMM(s.OnTime)
	offMin, okOff := parseHHMM(s.OffTime)
	if !okOn || !okOff {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()
	if onMin <= offMin {
		return nowMin >= onMin && nowMin < offMin
	}
	return nowMin >= onMin || nowMin < offMin
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
