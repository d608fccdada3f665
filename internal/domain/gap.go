package domain

import (
	"fmt"
	"time"
)

// Gap is a maximal contiguous run of civil dates in an expected range with
// no persisted prediction. Start and End are inclusive; a single missing
// date has Start == End.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of missing dates covered by the gap.
func (g Gap) Days() int {
	return int(Day(g.End).Sub(Day(g.Start)).Hours()/24) + 1
}

// Dates enumerates the gap's dates in ascending order.
func (g Gap) Dates() []time.Time {
	return DateRange(g.Start, g.End)
}

func (g Gap) String() string {
	if g.Start.Equal(g.End) {
		return g.Start.Format(DateFormat)
	}
	return fmt.Sprintf("%s to %s", g.Start.Format(DateFormat), g.End.Format(DateFormat))
}
