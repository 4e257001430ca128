package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testToday = time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)

func TestParseDateGregorianForms(t *testing.T) {
	eras := DefaultEras()

	for _, text := range []string{
		"領収日 2026/02/22",
		"2026-02-22",
		"2026.2.22",
		"2026年2月22日",
	} {
		parsed, ok := ParseDate(text, eras, testToday)
		assert.True(t, ok, text)
		assert.Equal(t, "2026-02-22", parsed.ISO, text)
		assert.False(t, parsed.Partial, text)
		assert.False(t, parsed.Inferred, text)
	}
}

func TestParseDateEraForms(t *testing.T) {
	eras := DefaultEras()

	parsed, ok := ParseDate("令和8年2月22日", eras, testToday)
	assert.True(t, ok)
	assert.Equal(t, "2026-02-22", parsed.ISO)

	parsed, ok = ParseDate("R8.2.22", eras, testToday)
	assert.True(t, ok)
	assert.Equal(t, "2026-02-22", parsed.ISO)

	parsed, ok = ParseDate("令和元年5月1日", eras, testToday)
	assert.True(t, ok)
	assert.Equal(t, "2019-05-01", parsed.ISO)

	parsed, ok = ParseDate("平成30年12月31日", eras, testToday)
	assert.True(t, ok)
	assert.Equal(t, "2018-12-31", parsed.ISO)
}

func TestParseDateUnknownEraLetterNotGuessed(t *testing.T) {
	// "X8.2.22" carries an abbreviation outside the era table. The
	// year digits must not be resolved against any era; whatever is
	// left over reads as a yearless partial at best.
	parsed, ok := ParseDate("X8.2.22", DefaultEras(), testToday)
	assert.True(t, ok)
	assert.True(t, parsed.Partial)
	assert.True(t, parsed.Date.IsZero())
}

func TestParseDateEralessYMDInferred(t *testing.T) {
	// "8/2/22" reads as era year 8 with the marker lost: 令和8 = 2026
	// is nearest to a Feb 2026 anchor.
	parsed, ok := ParseDate("調剤日 8/2/22", DefaultEras(), testToday)
	assert.True(t, ok)
	assert.Equal(t, "2026-02-22", parsed.ISO)
	assert.True(t, parsed.Inferred)
}

func TestParseDateMonthDayPartial(t *testing.T) {
	parsed, ok := ParseDate("2月22日", DefaultEras(), testToday)
	assert.True(t, ok)
	assert.True(t, parsed.Partial)
	assert.Equal(t, "02-22", parsed.ISO)
	assert.True(t, parsed.Date.IsZero())
}

func TestParseDateRejectsInvalidCalendarDate(t *testing.T) {
	_, ok := ParseDate("2026/13/45", DefaultEras(), testToday)
	assert.False(t, ok)

	_, ok = ParseDate("電話 03-1234-5678", DefaultEras(), testToday)
	assert.False(t, ok)
}
