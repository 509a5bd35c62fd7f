package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != NewDate(2024, time.January, 15) {
		t.Errorf("expected 2024-01-15, got %s", d)
	}
	if d.String() != "2024-01-15" {
		t.Errorf("expected round trip, got %s", d.String())
	}

	for _, bad := range []string{"", "15/01/2024", "2024-13-01", "2024-01-15T09:00:00Z"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("expected ErrInvalidSlot for %q, got %v", bad, err)
		}
	}
}

func TestDateArithmetic(t *testing.T) {
	d := NewDate(2024, time.February, 28)
	if got := d.AddDays(1).String(); got != "2024-02-29" {
		t.Errorf("expected leap day, got %s", got)
	}
	if got := d.AddDays(2).String(); got != "2024-03-01" {
		t.Errorf("expected 2024-03-01, got %s", got)
	}
	if n := d.DaysUntil(NewDate(2024, time.March, 31)); n != 32 {
		t.Errorf("expected 32 days, got %d", n)
	}
	if !d.Before(d.AddDays(1)) || d.After(d.AddDays(1)) {
		t.Error("expected d to be before the next day")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"09:00", "09:00"},
		{"09:30:00", "09:30"},
		{"17:45:15", "17:45:15"},
		{" 00:00 ", "00:00"},
	}
	for _, tc := range tests {
		got, err := ParseTimeOfDay(tc.in)
		if err != nil {
			t.Errorf("unexpected error for %q: %v", tc.in, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("ParseTimeOfDay(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "9am", "24:00", "12:60"} {
		if _, err := ParseTimeOfDay(bad); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("expected ErrInvalidSlot for %q, got %v", bad, err)
		}
	}
}

func TestAt(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	tod, _ := ParseTimeOfDay("09:30")
	got := At(NewDate(2024, time.January, 15), tod, loc)
	want := time.Date(2024, time.January, 15, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestSlotKeyLess(t *testing.T) {
	doc := uuid.New()
	d := NewDate(2024, time.January, 15)
	a := SlotKey{DoctorID: doc, Date: d, Time: 9 * 3600}
	b := SlotKey{DoctorID: doc, Date: d, Time: 10 * 3600}
	c := SlotKey{DoctorID: doc, Date: d.AddDays(1), Time: 8 * 3600}

	if !a.Less(b) || !b.Less(c) || !a.Less(c) {
		t.Error("expected a < b < c")
	}
	if c.Less(a) || a.Less(a) {
		t.Error("expected ordering to be strict")
	}
}
