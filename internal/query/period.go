package query

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses YYYY-MM-DD bounds. Start must not be after End.
func NewDateRange(start, end string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	s, err := time.ParseInLocation(dateLayout, strings.TrimSpace(start), loc)
	if err != nil {
		return DateRange{}, invalid("start date %q is not YYYY-MM-DD", start)
	}
	e, err := time.ParseInLocation(dateLayout, strings.TrimSpace(end), loc)
	if err != nil {
		return DateRange{}, invalid("end date %q is not YYYY-MM-DD", end)
	}
	if s.After(e) {
		return DateRange{}, invalid("start date %s is after end date %s", start, end)
	}
	return DateRange{Start: s, End: e}, nil
}

// Days is the number of calendar days covered, both ends included.
func (r DateRange) Days() int {
	return int(dayIndex(r.End)-dayIndex(r.Start)) + 1
}

// WholeMonths reports whether the range starts on the 1st and ends on the
// last day of a month.
func (r DateRange) WholeMonths() bool {
	return r.Start.Day() == 1 && r.End.AddDate(0, 0, 1).Day() == 1
}

// Previous returns the period immediately before r. Whole-month ranges
// step back by the same number of calendar months; anything else by the
// same number of days.
func (r DateRange) Previous() DateRange {
	if r.WholeMonths() {
		months := (r.End.Year()-r.Start.Year())*12 + int(r.End.Month()-r.Start.Month()) + 1
		start := r.Start.AddDate(0, -months, 0)
		return DateRange{Start: start, End: r.Start.AddDate(0, 0, -1)}
	}
	end := r.Start.AddDate(0, 0, -1)
	return DateRange{Start: end.AddDate(0, 0, -(r.Days() - 1)), End: end}
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"start": r.Start.Format(dateLayout),
		"end":   r.End.Format(dateLayout),
	})
}

// day truncates t to midnight in its own location.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayIndex(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

var periodAliases = map[string]string{
	"today": "today", "hoy": "today",
	"yesterday": "yesterday", "ayer": "yesterday",
	"this week": "this_week", "current week": "this_week", "esta semana": "this_week",
	"last week": "last_week", "previous week": "last_week", "semana pasada": "last_week", "semana anterior": "last_week",
	"this month": "this_month", "current month": "this_month", "este mes": "this_month",
	"last month": "last_month", "previous month": "last_month", "mes pasado": "last_month", "mes anterior": "last_month",
	"this quarter": "this_quarter", "current quarter": "this_quarter", "este trimestre": "this_quarter",
	"last quarter": "last_quarter", "previous quarter": "last_quarter", "trimestre pasado": "last_quarter", "trimestre anterior": "last_quarter",
	"this year": "this_year", "current year": "this_year", "este ano": "this_year",
	"last year": "last_year", "previous year": "last_year", "ano pasado": "last_year", "ano anterior": "last_year",
	"year to date": "ytd", "ytd": "ytd", "en lo que va del ano": "ytd",
	"month to date": "mtd", "mtd": "mtd", "en lo que va del mes": "mtd",
}

var lastNDays = regexp.MustCompile(`^(?:last|past|ultimos) (\d{1,3}) (?:days|dias)$`)

// PeriodTokens lists the canonical English tokens, for tool descriptions.
var PeriodTokens = []string{
	"today", "yesterday", "this_week", "last_week", "this_month", "last_month",
	"this_quarter", "last_quarter", "this_year", "last_year", "year_to_date",
	"month_to_date", "last_7_days", "last_30_days", "last_90_days",
}

// ResolvePeriod turns a period token into an inclusive range of days in loc,
// relative to at. Unknown tokens are a validation error.
func ResolvePeriod(token string, at time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	norm := normalize(token)
	t := at.In(loc)
	today := day(t)

	if m := lastNDays.FindStringSubmatch(norm); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 366 {
			return DateRange{}, invalid("period %q must cover 1 to 366 days", token)
		}
		return DateRange{Start: today.AddDate(0, 0, -(n - 1)), End: today}, nil
	}

	canon, ok := periodAliases[norm]
	if !ok {
		return DateRange{}, invalid("unknown period %q (supported: %s, or start_date/end_date)",
			token, strings.Join(PeriodTokens, ", "))
	}

	cal := (&now.Config{WeekStartDay: time.Monday, TimeLocation: loc}).With(t)
	month := DateRange{Start: day(cal.BeginningOfMonth()), End: day(cal.EndOfMonth())}
	quarter := DateRange{Start: day(cal.BeginningOfQuarter()), End: day(cal.EndOfQuarter())}
	year := DateRange{Start: day(cal.BeginningOfYear()), End: day(cal.EndOfYear())}
	week := DateRange{Start: day(cal.BeginningOfWeek()), End: day(cal.EndOfWeek())}

	switch canon {
	case "today":
		return DateRange{Start: today, End: today}, nil
	case "yesterday":
		y := today.AddDate(0, 0, -1)
		return DateRange{Start: y, End: y}, nil
	case "this_week":
		return week, nil
	case "last_week":
		return week.Previous(), nil
	case "this_month":
		return month, nil
	case "last_month":
		return month.Previous(), nil
	case "this_quarter":
		return quarter, nil
	case "last_quarter":
		return quarter.Previous(), nil
	case "this_year":
		return year, nil
	case "last_year":
		return year.Previous(), nil
	case "ytd":
		return DateRange{Start: year.Start, End: today}, nil
	case "mtd":
		return DateRange{Start: month.Start, End: today}, nil
	}
	return DateRange{}, invalid("unknown period %q", token)
}

var accents = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n", "ü", "u")

// normalize lowercases, strips Spanish accents and collapses separators.
func normalize(s string) string {
	s = accents.Replace(strings.ToLower(strings.TrimSpace(s)))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
