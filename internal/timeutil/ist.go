package timeutil

import (
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30). Bill dates are
// calendar days in this zone.
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback: create fixed zone if Asia/Kolkata not available
		IST = time.FixedZone("IST", 5*60*60+30*60)
	}
}

const DateLayout = "2006-01-02"

// Clock returns the current time. Services take one so tests can pin "today".
type Clock func() time.Time

// Now returns the current time in IST
func Now() time.Time {
	return time.Now().In(IST)
}

// DateOf returns the IST calendar date of t as YYYY-MM-DD.
func DateOf(t time.Time) string {
	return t.In(IST).Format(DateLayout)
}

// Today returns today's IST date as YYYY-MM-DD.
func Today() string {
	return DateOf(time.Now())
}

// FixedClock always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
