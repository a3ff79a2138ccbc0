package domain

import (
	"strconv"
	"strings"
	"time"
)

// IST is the fixed timezone every user-facing round identifier and
// operating-window check is expressed in. Falls back to a fixed offset if
// the tzdata database is unavailable in the deployment image.
var IST = mustLoadIST()

func mustLoadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// RoundCode builds the stable, human-legible round identifier from its
// start instant: "YYYYMMDD-HHMM" in the fixed timezone. Two rounds can never
// collide on this as long as round_duration_seconds >= 60.
func RoundCode(startAt time.Time) string {
	return startAt.In(IST).Format("20060102-1504")
}

// IsWithinOperatingWindow reports whether now's wall-clock time in the fixed
// timezone falls within [start, end], both "HH:MM". A window where end <
// start is treated as wrapping past midnight (e.g. "22:00" to "02:00"). An
// unparsable start or end is treated as "no restriction" — always open.
func IsWithinOperatingWindow(now time.Time, start, end string) bool {
	startMin, okStart := parseClock(start)
	endMin, okEnd := parseClock(end)
	if !okStart || !okEnd {
		return true
	}

	nowLocal := now.In(IST)
	nowMin := nowLocal.Hour()*60 + nowLocal.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin
	}
	// Window wraps past midnight.
	return nowMin >= startMin || nowMin <= endMin
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
