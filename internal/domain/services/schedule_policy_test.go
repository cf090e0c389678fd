package services

import (
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
)

func testInventoryPolicy() InventoryPolicy {
	return InventoryPolicy{
		WeekdayInterval: 6 * time.Hour,
		WeekendInterval: 3 * time.Hour,
		WakeStartHour:   8,
		WakeEndHour:     20,
	}
}

func testSchedulePolicy() SchedulePolicy {
	return SchedulePolicy{
		Inventory: testInventoryPolicy(),
		Price:     PricePolicy{FireHour: 7, FireMinute: 30},
	}
}

func mustWeekday(t *testing.T, moment time.Time, want time.Weekday) time.Time {
	t.Helper()

	if moment.Weekday() != want {
		t.Fatalf("fixture date %v is a %v, want %v", moment, moment.Weekday(), want)
	}
	return moment
}

func TestInventoryPolicy_Interval(t *testing.T) {
	policy := testInventoryPolicy()

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{
			name: "weekday",
			now:  mustWeekday(t, time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC), time.Monday),
			want: 6 * time.Hour,
		},
		{
			name: "saturday",
			now:  mustWeekday(t, time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC), time.Saturday),
			want: 3 * time.Hour,
		},
		{
			name: "sunday",
			now:  mustWeekday(t, time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC), time.Sunday),
			want: 3 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Interval(tt.now); got != tt.want {
				t.Errorf("Interval(%v) = %v, want %v", tt.now.Weekday(), got, tt.want)
			}
		})
	}
}

func TestInventoryPolicy_NextFire(t *testing.T) {
	policy := testInventoryPolicy()
	monday := mustWeekday(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), time.Monday)
	friday := mustWeekday(t, time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC), time.Friday)
	saturday := mustWeekday(t, time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC), time.Saturday)

	at := func(day time.Time, hour, minute int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "stays inside the wake window",
			now:  at(monday, 10, 0),
			want: at(monday, 16, 0),
		},
		{
			name: "past window close rolls to next morning",
			now:  at(monday, 15, 0),
			want: at(monday.AddDate(0, 0, 1), 8, 0),
		},
		{
			name: "exactly at window close rolls to next morning",
			now:  at(monday, 14, 0),
			want: at(monday.AddDate(0, 0, 1), 8, 0),
		},
		{
			name: "before window open waits for the opening",
			now:  at(monday, 23, 30),
			want: at(monday.AddDate(0, 0, 1), 8, 0),
		},
		{
			name: "weekend interval is shorter",
			now:  at(saturday, 10, 0),
			want: at(saturday, 13, 0),
		},
		{
			name: "interval follows the day of scheduling",
			now:  at(friday, 19, 0),
			want: at(saturday, 8, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.NextFire(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextFire(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestPricePolicy_NextFire(t *testing.T) {
	policy := PricePolicy{FireHour: 7, FireMinute: 30}
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before fire time fires today",
			now:  day.Add(6 * time.Hour),
			want: day.Add(7*time.Hour + 30*time.Minute),
		},
		{
			name: "after fire time fires tomorrow",
			now:  day.Add(12 * time.Hour),
			want: day.AddDate(0, 0, 1).Add(7*time.Hour + 30*time.Minute),
		},
		{
			name: "exactly at fire time fires tomorrow",
			now:  day.Add(7*time.Hour + 30*time.Minute),
			want: day.AddDate(0, 0, 1).Add(7*time.Hour + 30*time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.NextFire(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextFire(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestSchedulePolicy_ExpectedInterval(t *testing.T) {
	policy := testSchedulePolicy()
	monday := mustWeekday(t, time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC), time.Monday)
	sunday := mustWeekday(t, time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC), time.Sunday)

	if got := policy.ExpectedInterval(models.JobTypeInventory, monday); got != 6*time.Hour {
		t.Errorf("ExpectedInterval(inventory, monday) = %v, want 6h", got)
	}
	if got := policy.ExpectedInterval(models.JobTypeInventory, sunday); got != 3*time.Hour {
		t.Errorf("ExpectedInterval(inventory, sunday) = %v, want 3h", got)
	}

	// The price cycle is daily no matter the weekday
	if got := policy.ExpectedInterval(models.JobTypePrice, sunday); got != 24*time.Hour {
		t.Errorf("ExpectedInterval(price, sunday) = %v, want 24h", got)
	}
}

func TestGraceFactor(t *testing.T) {
	if got := GraceFactor(models.JobTypeInventory); got != 1.5 {
		t.Errorf("GraceFactor(inventory) = %v, want 1.5", got)
	}
	if got := GraceFactor(models.JobTypePrice); got != 26.0/24.0 {
		t.Errorf("GraceFactor(price) = %v, want 26/24", got)
	}
}
