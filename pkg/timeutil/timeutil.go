// Package timeutil provides timezone utilities for Nairobi time (UTC+3).
// Receipt years, due dates and gateway timestamps are all interpreted in the
// school's local timezone, never in server-local time.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// NairobiTZ is East Africa Time (UTC+3, no DST).
var NairobiTZ = time.FixedZone("Africa/Nairobi", 3*60*60)

// Now returns the current time in Nairobi timezone.
func Now() time.Time {
	return time.Now().In(NairobiTZ)
}

// ToNairobi converts a time to Nairobi timezone.
func ToNairobi(t time.Time) time.Time {
	return t.In(NairobiTZ)
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Date creates a time in Nairobi timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, NairobiTZ)
}

// DateTime creates a time in Nairobi timezone with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, NairobiTZ)
}

// StartOfDay returns the start of the day (00:00:00) in Nairobi timezone.
func StartOfDay(t time.Time) time.Time {
	local := ToNairobi(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, NairobiTZ)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in Nairobi timezone.
func EndOfDay(t time.Time) time.Time {
	local := ToNairobi(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, NairobiTZ)
}

// ReceiptYear returns the calendar year a receipt issued at t belongs to,
// in Nairobi timezone. A payment completing at 23:30 local time on New Year's
// Eve belongs to the old year even when the server clock is UTC.
func ReceiptYear(t time.Time) int {
	return ToNairobi(t).Year()
}

// DaysSince calculates the number of days since the given time.
func DaysSince(t time.Time) int {
	now := StartOfDay(Now())
	then := StartOfDay(t)
	duration := now.Sub(then)
	return int(duration.Hours() / 24)
}

// IsOverdue reports whether a due date has passed as of now.
func IsOverdue(dueDate time.Time) bool {
	return Now().After(EndOfDay(dueDate))
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
	// FormatDaraja is the timestamp format the Daraja API expects
	// (yyyyMMddHHmmss, Nairobi time).
	FormatDaraja = "20060102150405"
	// FormatHumanDate is a human-readable format.
	FormatHumanDate = "2 January 2006"
)

// FormatNairobi formats a time in Nairobi timezone with the given layout.
func FormatNairobi(t time.Time, layout string) string {
	return ToNairobi(t).Format(layout)
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in Nairobi timezone.
func FormatDateStr(t time.Time) string {
	return FormatNairobi(t, FormatDate)
}

// DarajaTimestamp formats a time the way the Daraja API expects, Nairobi time.
func DarajaTimestamp(t time.Time) string {
	return FormatNairobi(t, FormatDaraja)
}

// ParseDarajaTimestamp parses a Daraja-format timestamp in Nairobi time.
// The gateway delivers TransactionDate in this shape.
func ParseDarajaTimestamp(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDaraja, value, NairobiTZ)
}

// ParseNairobi parses a time string in Nairobi timezone.
func ParseNairobi(layout, value string) (time.Time, error) {
	return time.ParseInLocation(layout, value, NairobiTZ)
}

// ParseDateNairobi parses a date string (YYYY-MM-DD) in Nairobi timezone.
func ParseDateNairobi(value string) (time.Time, error) {
	return ParseNairobi(FormatDate, value)
}

// IsSameDay checks if two times are on the same day in Nairobi timezone.
func IsSameDay(t1, t2 time.Time) bool {
	a1, a2 := ToNairobi(t1), ToNairobi(t2)
	return a1.Year() == a2.Year() && a1.YearDay() == a2.YearDay()
}

// DaysBetween calculates the number of days between two times.
func DaysBetween(t1, t2 time.Time) int {
	a1 := StartOfDay(t1)
	a2 := StartOfDay(t2)
	duration := a2.Sub(a1)
	days := int(duration.Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Notification timing helpers.

// IsSafeNotificationTime checks if it's appropriate to send payment
// confirmations and fee reminders to parents (8:00-21:00 local).
func IsSafeNotificationTime(t time.Time) bool {
	local := ToNairobi(t)
	hour := local.Hour()
	return hour >= 8 && hour < 21
}

// NextSafeNotificationTime returns the next time when notifications are appropriate.
func NextSafeNotificationTime(t time.Time) time.Time {
	local := ToNairobi(t)
	hour := local.Hour()

	if hour < 8 {
		return DateTime(local.Year(), int(local.Month()), local.Day(), 8, 0, 0)
	} else if hour >= 21 {
		tomorrow := local.AddDate(0, 0, 1)
		return DateTime(tomorrow.Year(), int(tomorrow.Month()), tomorrow.Day(), 8, 0, 0)
	}

	return local
}

// FormatRelative returns a human-readable relative time string.
func FormatRelative(t time.Time) string {
	now := Now()
	local := ToNairobi(t)
	duration := now.Sub(local)

	if duration < 0 {
		duration = -duration
		return formatFutureDuration(duration)
	}

	return formatPastDuration(duration)
}

func formatPastDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return fmt.Sprintf("%d weeks ago", int(d.Hours()/24/7))
	}
}

func formatFutureDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("in %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("in %d h", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "tomorrow"
		}
		return fmt.Sprintf("in %d days", days)
	}
}
