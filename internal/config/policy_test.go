package config

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultCoinPolicyParses(t *testing.T) {
	policy, err := DefaultCoinPolicy().Parse()
	if err != nil {
		t.Fatalf("默认策略必须可解析: %v", err)
	}
	if policy.OrdersToSpread != 6 {
		t.Fatalf("orders_to_spread = %d", policy.OrdersToSpread)
	}
	if !policy.MinDailyRate.Equal(decimal.RequireFromString("0.000030")) {
		t.Fatalf("min_daily_rate = %s", policy.MinDailyRate)
	}
	if len(policy.DayThresholds) != 7 {
		t.Fatalf("threshold rows = %d", len(policy.DayThresholds))
	}
}

func TestParseConvertsPercentThresholds(t *testing.T) {
	raw := DefaultCoinPolicy()
	raw.RateDayThresholds = []RateDayThreshold{{RatePercent: "0.15", Days: 7}}

	policy, err := raw.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !policy.DayThresholds[0].Rate.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("0.15%% should become daily rate 0.0015, got %s", policy.DayThresholds[0].Rate)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CoinPolicy)
		wantErr string
	}{
		{
			name:    "rate step too small",
			mutate:  func(p *CoinPolicy) { p.MinRateStep = "0.0000001" },
			wantErr: "min_rate_step",
		},
		{
			name:    "min daily rate below floor",
			mutate:  func(p *CoinPolicy) { p.MinDailyRate = "0.00001" },
			wantErr: "min_daily_rate",
		},
		{
			name:    "max daily rate above cap",
			mutate:  func(p *CoinPolicy) { p.MaxDailyRate = "0.06" },
			wantErr: "max_daily_rate",
		},
		{
			name: "min above max",
			mutate: func(p *CoinPolicy) {
				p.MinDailyRate = "0.01"
				p.MaxDailyRate = "0.001"
			},
			wantErr: "must not exceed",
		},
		{
			name:    "orders to spread out of range",
			mutate:  func(p *CoinPolicy) { p.OrdersToSpread = 51 },
			wantErr: "orders_to_spread",
		},
		{
			name:    "zero min total orders",
			mutate:  func(p *CoinPolicy) { p.MinTotalOrders = 0 },
			wantErr: "min_total_orders",
		},
		{
			name: "min total above max total",
			mutate: func(p *CoinPolicy) {
				p.MinTotalOrders = 700
				p.MaxTotalOrders = 600
			},
			wantErr: "min_total_orders",
		},
		{
			name:    "negative dust amount",
			mutate:  func(p *CoinPolicy) { p.LowestOffersDustSkipAmount = "-1" },
			wantErr: "cannot be negative",
		},
		{
			name:    "unparseable amount",
			mutate:  func(p *CoinPolicy) { p.SpreadDustSkipAmount = "abc" },
			wantErr: "spread_dust_skip_amount",
		},
		{
			name: "threshold days out of range",
			mutate: func(p *CoinPolicy) {
				p.RateDayThresholds = []RateDayThreshold{{RatePercent: "0.1", Days: 61}}
			},
			wantErr: "days(61)",
		},
		{
			name: "non-monotonic threshold table",
			mutate: func(p *CoinPolicy) {
				p.RateDayThresholds = []RateDayThreshold{
					{RatePercent: "0.1", Days: 30},
					{RatePercent: "0.2", Days: 7},
				}
			},
			wantErr: "not monotonic",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := DefaultCoinPolicy()
			tc.mutate(&raw)
			_, err := raw.Parse()
			if err == nil {
				t.Fatal("非法策略必须被拒绝")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseSortsThresholdsByRate(t *testing.T) {
	raw := DefaultCoinPolicy()
	raw.RateDayThresholds = []RateDayThreshold{
		{RatePercent: "0.45", Days: 30},
		{RatePercent: "0.07", Days: 3},
		{RatePercent: "0.15", Days: 7},
	}

	policy, err := raw.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i := 1; i < len(policy.DayThresholds); i++ {
		if policy.DayThresholds[i].Rate.LessThan(policy.DayThresholds[i-1].Rate) {
			t.Fatalf("thresholds not sorted: %+v", policy.DayThresholds)
		}
	}
}
