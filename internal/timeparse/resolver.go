// Package timeparse resolves free-text appointment time expressions in
// English, Russian, and Latvian into concrete timestamps in the business
// timezone. The model-suggested ISO timestamp is preferred when present and
// well-formed; otherwise a pattern fallback handles the common phrasings
// customers actually use ("tomorrow at 15:30", "завтра в 15 30",
// "piektdien 10.00").
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Resolver turns time expressions into timestamps anchored to one timezone.
type Resolver struct {
	loc *time.Location
}

// New creates a Resolver for the business timezone.
func New(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

var (
	// Hour 0-23, minute 00-59, separated by ":", "." or a single space.
	timeOfDayRe = regexp.MustCompile(`\b([01]?\d|2[0-3])[:. ]([0-5]\d)\b`)
	timeColonRe = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	dateTrailRe = regexp.MustCompile(`^[./]\d`)

	isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	// Day-first numeric date: 12.05, 12/05, 12.05.2025, 12/05/25.
	dayMonthRe = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})(?:[./](\d{2}|\d{4}))?\b`)

	inDaysEnRe = regexp.MustCompile(`\bin (\d{1,2}) days?\b`)
	inDaysRuRe = regexp.MustCompile(`через (\d{1,2}) д(?:ень|ня|ней)`)
	inDaysLvRe = regexp.MustCompile(`pēc (\d{1,2}) dien`)
)

// Checked before the plain "tomorrow" keywords: in Russian and Latvian the
// day-after-tomorrow word contains the tomorrow word as a substring.
var dayAfterTomorrowWords = []string{"day after tomorrow", "послезавтра", "parīt", "pariit"}

var tomorrowWords = []string{"tomorrow", "завтра", "rīt", "riit"}

var nextQualifiers = []string{"next", "следующ", "nākam", "nakam"}

// weekdayPrefixes maps lowercase name prefixes to Go weekdays across the three
// supported languages. Prefixes absorb Russian case endings (пятница/пятницу)
// and Latvian locative forms (piektdien/piektdienā).
var weekdayPrefixes = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,

	"понедельник": time.Monday,
	"вторник":     time.Tuesday,
	"сред":        time.Wednesday,
	"четверг":     time.Thursday,
	"пятниц":      time.Friday,
	"суббот":      time.Saturday,
	"воскрес":     time.Sunday,

	"pirmdien":   time.Monday,
	"otrdien":    time.Tuesday,
	"trešdien":   time.Wednesday,
	"tresdien":   time.Wednesday,
	"ceturtdien": time.Thursday,
	"piektdien":  time.Friday,
	"sestdien":   time.Saturday,
	"svētdien":   time.Sunday,
	"svetdien":   time.Sunday,
}

// Resolve produces a timestamp from, in priority order, the model-suggested
// ISO value, then pattern extraction over the free time text and the raw
// utterance. The boolean is false when no concrete time could be determined.
// A malformed ISO value is treated as absent, not fatal.
func (r *Resolver) Resolve(modelSuggestedISO, freeTimeText, rawUtterance string, ref time.Time) (time.Time, bool) {
	if ts, ok := r.parseISO(modelSuggestedISO); ok {
		return ts, true
	}
	return r.resolveFromText(strings.TrimSpace(freeTimeText+" "+rawUtterance), ref)
}

// HasTimeOfDay reports whether the text contains an explicit HH:MM-like
// pattern. The conversation engine uses this to detect time-bearing
// utterances (a new stated time invalidates a pending slot offer).
func HasTimeOfDay(text string) bool {
	return findTimeOfDay(strings.ToLower(text)) != nil
}

// parseISO accepts RFC3339 and naive "2006-01-02T15:04:05" timestamps.
// Values carrying an offset are converted to the business timezone; naive
// values are assumed to already be business-local.
func (r *Resolver) parseISO(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(r.loc), true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, r.loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", raw, r.loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (r *Resolver) resolveFromText(text string, ref time.Time) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	lower := strings.ToLower(text)

	// A date without a time of day is never enough to book.
	timeMatch := findTimeOfDay(lower)
	if timeMatch == nil {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(lower[timeMatch[2]:timeMatch[3]])
	minute, _ := strconv.Atoi(lower[timeMatch[4]:timeMatch[5]])

	// Remove the matched time so "15.10" cannot also be read as a date.
	remainder := lower[:timeMatch[0]] + lower[timeMatch[1]:]

	ref = ref.In(r.loc)
	date := r.resolveDate(remainder, ref)
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, r.loc), true
}

// resolveDate determines the calendar date, checking signals in fixed
// precedence. When nothing matches, the reference date is used as-is: a bare
// time like "15:10" books today even if that moment has already passed, which
// mirrors the legacy behavior deliberately.
func (r *Resolver) resolveDate(text string, ref time.Time) time.Time {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if d, ok := makeDate(year, month, day, r.loc); ok {
			return d
		}
	}

	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		yearGiven := m[3] != ""
		year := ref.Year()
		if yearGiven {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if d, ok := makeDate(year, month, day, r.loc); ok {
			// Without an explicit year, a past date means the caller intends
			// the next occurrence.
			if !yearGiven && d.Before(startOfDay(ref)) {
				d = d.AddDate(1, 0, 0)
			}
			return d
		}
	}

	for _, w := range dayAfterTomorrowWords {
		if strings.Contains(text, w) {
			return startOfDay(ref).AddDate(0, 0, 2)
		}
	}
	for _, w := range tomorrowWords {
		if strings.Contains(text, w) {
			return startOfDay(ref).AddDate(0, 0, 1)
		}
	}

	for _, re := range []*regexp.Regexp{inDaysEnRe, inDaysRuRe, inDaysLvRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			n, _ := strconv.Atoi(m[1])
			return startOfDay(ref).AddDate(0, 0, n)
		}
	}

	if wd, ok := findWeekday(text); ok {
		// Strictly after the reference day: naming today's weekday means next week.
		days := (int(wd) - int(ref.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		if hasNextQualifier(text) {
			days += 7
		}
		return startOfDay(ref).AddDate(0, 0, days)
	}

	return startOfDay(ref)
}

// findTimeOfDay locates the time-of-day pattern. Colon-separated times win
// outright; dotted matches that continue into a longer numeric date token
// ("12.05.2025") are skipped so a date is not misread as a time.
func findTimeOfDay(text string) []int {
	if m := timeColonRe.FindStringSubmatchIndex(text); m != nil {
		return m
	}
	offset := 0
	for offset < len(text) {
		m := timeOfDayRe.FindStringSubmatchIndex(text[offset:])
		if m == nil {
			return nil
		}
		for i := range m {
			m[i] += offset
		}
		if !dateTrailRe.MatchString(text[m[1]:]) {
			return m
		}
		offset = m[1]
	}
	return nil
}

func findWeekday(text string) (time.Weekday, bool) {
	for prefix, wd := range weekdayPrefixes {
		if strings.Contains(text, prefix) {
			return wd, true
		}
	}
	return time.Sunday, false
}

func hasNextQualifier(text string) bool {
	for _, q := range nextQualifiers {
		if strings.Contains(text, q) {
			return true
		}
	}
	return false
}

func makeDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// Reject rollover like 31.02 -> March 3.
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
