package strategy

import "testing"

func TestDurationForSelectsLongestQualifying(t *testing.T) {
	policy := Policy{
		DayThresholds: []RateDuration{
			{Rate: dec("0.0005"), Days: 7},
			{Rate: dec("0.001"), Days: 30},
			{Rate: dec("0.004"), Days: 60},
		},
	}

	cases := []struct {
		rate string
		want uint16
	}{
		{"0.0001", DefaultDurationDays},
		{"0.0005", 7},
		{"0.0009", 7},
		{"0.001", 30},
		{"0.0039", 30},
		{"0.004", 60},
		{"0.05", 60},
	}
	for _, tc := range cases {
		if got := policy.DurationFor(dec(tc.rate)); got != tc.want {
			t.Errorf("DurationFor(%s) = %d, want %d", tc.rate, got, tc.want)
		}
	}
}

func TestDurationForEmptyTable(t *testing.T) {
	var policy Policy
	if got := policy.DurationFor(dec("0.05")); got != DefaultDurationDays {
		t.Fatalf("empty threshold table returned %d days", got)
	}
}
