package market

import "time"

// Trend labels the slow moving-average structure of a symbol.
type Trend string

const (
	TrendUp       Trend = "up"
	TrendDown     Trend = "down"
	TrendSideways Trend = "sideways"
)

// Snapshot is one immutable market reading for a symbol at scan time.
// Percent fields are in percent units (1.5 means 1.5%). Indicator fields are
// zero when history was insufficient.
type Snapshot struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Change1h    float64   `json:"change_1h"`
	Change4h    float64   `json:"change_4h"`
	Change24h   float64   `json:"change_24h"`
	Volume24h   float64   `json:"volume_24h"`
	FundingRate float64   `json:"funding_rate"`
	RSI         float64   `json:"rsi"`
	EMAFast     float64   `json:"ema_fast"`
	EMASlow     float64   `json:"ema_slow"`
	ATRPct      float64   `json:"atr_pct"`
	BandWidth   float64   `json:"band_width"`
	VolumeRatio float64   `json:"volume_ratio"`
	OIDeltaPct  float64   `json:"oi_delta_pct"`
	Trend       Trend     `json:"trend"`
	Timestamp   time.Time `json:"timestamp"`
}

// HasIndicators reports whether the indicator block was populated.
func (s Snapshot) HasIndicators() bool {
	return s.RSI > 0 && s.EMAFast > 0 && s.EMASlow > 0
}
