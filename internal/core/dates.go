package core

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrEmptyDate   = errors.New("empty date")
	ErrInvalidDate = errors.New("invalid date")
)

// ParseLocalDate builds a naive date from the year/month/day components of a
// YYYY-MM-DD string. Anything after the first 10 characters is ignored, so
// timestamps like "2026-02-10T00:00:00Z" keep their calendar day.
func ParseLocalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ErrEmptyDate
	}
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	year, err1 := strconv.Atoi(s[0:4])
	month, err2 := strconv.Atoi(s[5:7])
	day, err3 := strconv.Atoi(s[8:10])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if month < 1 || month > 12 || day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// ParseLocalDateOr is the tolerant form of ParseLocalDate: empty or malformed
// input yields fallback.
func ParseLocalDateOr(s string, fallback time.Time) time.Time {
	t, err := ParseLocalDate(s)
	if err != nil {
		return fallback
	}
	return t
}

// FormatLocalDate formats the value's own year/month/day as YYYY-MM-DD.
func FormatLocalDate(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
}

// MonthKey formats a year and month as YYYY-MM.
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// ParseMonth parses YYYY-MM (or any YYYY-MM-DD) into the first day of that month.
func ParseMonth(s string) (time.Time, error) {
	if len(s) == 7 {
		s += "-01"
	}
	t, err := ParseLocalDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return FirstOfMonth(t), nil
}

// FirstOfMonth truncates t to day 1 of its month.
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// InvoiceMonth returns the YYYY-MM of the credit-card invoice a purchase bills
// into. A purchase on the closing day itself still belongs to the current
// cycle; from closingDay+1 it rolls into the next month.
func InvoiceMonth(dateStr string, closingDay int) (string, bool) {
	first, ok := invoiceFirstOfMonth(dateStr, closingDay)
	if !ok {
		return "", false
	}
	return MonthKey(first), true
}

// InvoiceDate is InvoiceMonth expressed as a first-of-month date.
func InvoiceDate(dateStr string, closingDay int) (string, bool) {
	first, ok := invoiceFirstOfMonth(dateStr, closingDay)
	if !ok {
		return "", false
	}
	return FormatLocalDate(first), true
}

func invoiceFirstOfMonth(dateStr string, closingDay int) (time.Time, bool) {
	if dateStr == "" || closingDay <= 0 {
		return time.Time{}, false
	}
	d, err := ParseLocalDate(dateStr)
	if err != nil {
		return time.Time{}, false
	}
	first := FirstOfMonth(d)
	if d.Day() > closingDay {
		first = first.AddDate(0, 1, 0)
	}
	return first, true
}

// CompetenceDate returns the first-of-month period a date counts toward for a
// person whose financial month starts on financialStartDay. Start days of 0
// or 1 follow the calendar month.
func CompetenceDate(dateStr string, financialStartDay int) (string, bool) {
	d, err := ParseLocalDate(dateStr)
	if err != nil {
		return "", false
	}
	first := FirstOfMonth(d)
	if financialStartDay > 1 && d.Day() >= financialStartDay {
		first = first.AddDate(0, 1, 0)
	}
	return FormatLocalDate(first), true
}

// AttributionDate picks the date that decides which period tx belongs to:
// the invoice date for card expenses, then the competence date, then the
// calendar date.
func AttributionDate(tx Transaction) string {
	if tx.UsesInvoice() {
		return tx.InvoiceDate
	}
	if tx.CompetenceDate != "" {
		return tx.CompetenceDate
	}
	return tx.Date
}

// InMonth reports whether the attribution date of tx falls in the year and
// month of ref. Transactions with unparseable dates never match.
func InMonth(tx Transaction, ref time.Time) bool {
	d, err := ParseLocalDate(AttributionDate(tx))
	if err != nil {
		return false
	}
	return d.Year() == ref.Year() && d.Month() == ref.Month()
}

// AddMonths moves dateStr n months forward, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(dateStr string, n int) (string, error) {
	d, err := ParseLocalDate(dateStr)
	if err != nil {
		return "", err
	}
	target := time.Date(d.Year(), d.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := d.Day()
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return FormatLocalDate(time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, time.UTC)), nil
}

// DaysBetween returns the whole days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
