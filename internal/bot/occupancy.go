package bot

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
)

const occupancyLabel = "Monday 15:04"

// weekdayIndex numbers days Monday=0 .. Sunday=6.
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// matchOccupancy returns the rows whose label contains every word of query,
// ignoring case, ordered by weekday, hour and minute.
func matchOccupancy(rows []*models.Occupancy, query string, loc *time.Location) []*models.Occupancy {
	words := strings.Fields(strings.ToLower(query))

	var matched []*models.Occupancy
	for _, row := range rows {
		label := strings.ToLower(row.Time.In(loc).Format(occupancyLabel))
		ok := true
		for _, w := range words {
			if !strings.Contains(label, w) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, row)
		}
	}

	slices.SortStableFunc(matched, func(a, b *models.Occupancy) int {
		ta, tb := a.Time.In(loc), b.Time.In(loc)
		return cmp.Or(
			cmp.Compare(weekdayIndex(ta.Weekday()), weekdayIndex(tb.Weekday())),
			cmp.Compare(ta.Hour(), tb.Hour()),
			cmp.Compare(ta.Minute(), tb.Minute()),
		)
	})
	return matched
}

func formatOccupancy(rows []*models.Occupancy, loc *time.Location) string {
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%s - %d\n", row.Time.In(loc).Format(occupancyLabel), row.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}
