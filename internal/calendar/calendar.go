// Package calendar implements the date arithmetic used for settlement prediction:
// a fixed national holiday table, business-day adjustment, and spreadsheet-style
// month arithmetic (EDATE/EOMONTH semantics).
//
// All dates are calendar days represented as time.Time at midnight UTC. Use Date
// or Truncate to bring other values into that form.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// ISOLayout is the layout used for index keys and storage columns.
const ISOLayout = "2006-01-02"

// MonthDay identifies a fixed-date holiday independent of year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// nationalHolidays lists fixed-date national holidays. Movable holidays (Carnival,
// Good Friday) are not modeled and Corpus Christi is pinned to June 19.
var nationalHolidays = map[MonthDay]string{
	{time.January, 1}:   "Confraternização Universal",
	{time.April, 21}:    "Tiradentes",
	{time.May, 1}:       "Dia do Trabalho",
	{time.June, 19}:     "Corpus Christi",
	{time.September, 7}: "Independência do Brasil",
	{time.October, 12}:  "Nossa Senhora Aparecida",
	{time.November, 2}:  "Finados",
	{time.November, 15}: "Proclamação da República",
	{time.November, 20}: "Dia Nacional de Zumbi e da Consciência Negra",
	{time.December, 25}: "Natal",
}

// Date builds a calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time-of-day and location, keeping the wall-clock date.
func Truncate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// IsHoliday reports whether the date falls on a fixed national holiday.
func IsHoliday(date time.Time) bool {
	_, ok := nationalHolidays[MonthDay{date.Month(), date.Day()}]
	return ok
}

// HolidayName returns the holiday name for the date, if any.
func HolidayName(date time.Time) (string, bool) {
	name, ok := nationalHolidays[MonthDay{date.Month(), date.Day()}]
	return name, ok
}

// Holidays returns a copy of the holiday table.
func Holidays() map[MonthDay]string {
	out := make(map[MonthDay]string, len(nationalHolidays))
	for k, v := range nationalHolidays {
		out[k] = v
	}
	return out
}

// IsWeekend reports whether the date is a Saturday or Sunday.
func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsBusinessDay reports whether the date is neither a weekend nor a holiday.
func IsBusinessDay(date time.Time) bool {
	return !IsWeekend(date) && !IsHoliday(date)
}

// NextBusinessDay returns the date itself when it is a business day, otherwise the
// first business day after it. Any run of non-business days is shorter than a week
// plus the holidays in it, so the loop always terminates.
func NextBusinessDay(date time.Time) time.Time {
	d := Truncate(date)
	for !IsBusinessDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// AddBusinessDays steps forward n business days, skipping weekends and holidays one
// day at a time. n <= 0 returns the date unchanged.
func AddBusinessDays(date time.Time, n int) time.Time {
	d := Truncate(date)
	for i := 0; i < n; i++ {
		d = d.AddDate(0, 0, 1)
		for !IsBusinessDay(d) {
			d = d.AddDate(0, 0, 1)
		}
	}
	return d
}

// AddCalendarDays adds n calendar days; n may be zero or negative.
func AddCalendarDays(date time.Time, n int) time.Time {
	return Truncate(date).AddDate(0, 0, n)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return Date(year, month+1, 0).Day()
}

// IsLastDayOfMonth reports whether date is the final day of its month.
func IsLastDayOfMonth(date time.Time) bool {
	return date.Day() == daysIn(date.Year(), date.Month())
}

// AddMonths moves the date by n months keeping the day-of-month, clamped to the
// length of the destination month. A date on the last day of its month always lands
// on the last day of the destination month.
func AddMonths(date time.Time, n int) time.Time {
	// Day 1 of the target month never overflows, unlike AddDate(0, n, 0).
	first := Date(date.Year(), date.Month()+time.Month(n), 1)
	last := daysIn(first.Year(), first.Month())

	day := date.Day()
	if IsLastDayOfMonth(date) || day > last {
		day = last
	}
	return Date(first.Year(), first.Month(), day)
}

// EndOfMonth returns the last day of the date's month: the month-end of the previous
// month carried one month forward.
func EndOfMonth(date time.Time) time.Time {
	return AddMonths(Date(date.Year(), date.Month(), 0), 1)
}

// StartOfMonth returns the first day of the date's month: the day after the end of
// the previous month.
func StartOfMonth(date time.Time) time.Time {
	return AddCalendarDays(EndOfMonth(AddMonths(date, -1)), 1)
}

// FirstBusinessDayOfNextMonth returns the first business day of the month after
// the date's month.
func FirstBusinessDayOfNextMonth(date time.Time) time.Time {
	return NextBusinessDay(AddCalendarDays(EndOfMonth(date), 1))
}

// MonthKey identifies a (year, month) partition.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf returns the partition key of a date.
func MonthOf(date time.Time) MonthKey {
	return MonthKey{Year: date.Year(), Month: date.Month()}
}

// Start returns the first day of the partition.
func (m MonthKey) Start() time.Time {
	return Date(m.Year, m.Month, 1)
}

// End returns the last day of the partition.
func (m MonthKey) End() time.Time {
	return EndOfMonth(m.Start())
}

// Add shifts the partition by n months.
func (m MonthKey) Add(n int) MonthKey {
	return MonthOf(AddMonths(m.Start(), n))
}

// String formats the partition as YYYY-MM.
func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// FormatISO renders a date as YYYY-MM-DD; the zero time renders as "".
func FormatISO(date time.Time) string {
	if date.IsZero() {
		return ""
	}
	return date.Format(ISOLayout)
}

var dateLayouts = []string{
	ISOLayout,
	"02/01/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"2006/01/02",
}

// ParseDate parses ISO, Brazilian (DD/MM/YYYY) and timestamp forms into a calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Truncate(t), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
