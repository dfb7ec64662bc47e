package scorer

import (
	"math"

	"perpcore/pkg/market"
)

// Thresholds for the individual flag conditions. Percent values are in
// percent units; funding is the raw hourly rate.
const (
	sharpMove1hPct    = 2.5
	extendedMove4hPct = 5.0
	dayExtremePct     = 10.0

	rsiOversold   = 30.0
	rsiOverbought = 70.0
	rsiMid        = 50.0

	atrExpansionPct   = 3.0
	squeezeWidthPct   = 2.0
	squeezeReleaseMul = 1.5

	volumeSpikeRatio    = 3.0
	volumeElevatedRatio = 2.0

	crowdedFunding = 0.0005
	oiBuildPct     = 5.0
	oiFlushPct     = -5.0
)

func priceActionFlags(s market.Snapshot) []Flag {
	var out []Flag
	if finite(s.Change1h) && math.Abs(s.Change1h) >= sharpMove1hPct {
		out = append(out, flag("sharp_move_1h", CategoryPriceAction, 15, biasOf(s.Change1h),
			"1h change %.2f%%", s.Change1h))
	}
	if finite(s.Change4h) && math.Abs(s.Change4h) >= extendedMove4hPct {
		out = append(out, flag("extended_move_4h", CategoryPriceAction, 10, biasOf(s.Change4h),
			"4h change %.2f%%", s.Change4h))
	}
	// Large daily ranges carry no lean.
	if finite(s.Change24h) && math.Abs(s.Change24h) >= dayExtremePct {
		out = append(out, flag("day_extreme", CategoryPriceAction, 8, BiasNeutral,
			"24h change %.2f%%", s.Change24h))
	}
	return out
}

func momentumFlags(s market.Snapshot, prev *market.Snapshot) []Flag {
	if s.RSI <= 0 || !finite(s.RSI) {
		return nil
	}
	var out []Flag
	switch {
	case s.RSI <= rsiOversold && s.Trend != market.TrendDown:
		out = append(out, flag("rsi_oversold_confirmed", CategoryMomentum, 20, BiasLong,
			"RSI %.1f, trend %s", s.RSI, s.Trend))
	case s.RSI <= rsiOversold:
		out = append(out, flag("rsi_oversold", CategoryMomentum, 10, BiasLong,
			"RSI %.1f against downtrend", s.RSI))
	case s.RSI >= rsiOverbought && s.Trend != market.TrendUp:
		out = append(out, flag("rsi_overbought_confirmed", CategoryMomentum, 20, BiasShort,
			"RSI %.1f, trend %s", s.RSI, s.Trend))
	case s.RSI >= rsiOverbought:
		out = append(out, flag("rsi_overbought", CategoryMomentum, 10, BiasShort,
			"RSI %.1f against uptrend", s.RSI))
	}
	if prev == nil || prev.RSI <= 0 {
		return out
	}
	switch {
	case prev.RSI < rsiOversold && s.RSI >= rsiOversold:
		w := 15.0
		if s.Trend == market.TrendUp {
			w = 25
		}
		out = append(out, flag("rsi_exit_oversold", CategoryMomentum, w, BiasLong,
			"RSI %.1f -> %.1f", prev.RSI, s.RSI))
	case prev.RSI > rsiOverbought && s.RSI <= rsiOverbought:
		w := 15.0
		if s.Trend == market.TrendDown {
			w = 25
		}
		out = append(out, flag("rsi_exit_overbought", CategoryMomentum, w, BiasShort,
			"RSI %.1f -> %.1f", prev.RSI, s.RSI))
	case prev.RSI < rsiMid && s.RSI >= rsiMid:
		out = append(out, flag("rsi_cross_up", CategoryMomentum, 8, BiasLong,
			"RSI crossed %.0f", rsiMid))
	case prev.RSI > rsiMid && s.RSI <= rsiMid:
		out = append(out, flag("rsi_cross_down", CategoryMomentum, 8, BiasShort,
			"RSI crossed %.0f", rsiMid))
	}
	return out
}

func volatilityFlags(s market.Snapshot, prev *market.Snapshot) []Flag {
	var out []Flag
	if finite(s.ATRPct) && s.ATRPct >= atrExpansionPct {
		out = append(out, flag("atr_expansion", CategoryVolatility, 10, BiasNeutral,
			"ATR %.2f%% of price", s.ATRPct))
	}
	if s.BandWidth <= 0 || !finite(s.BandWidth) {
		return out
	}
	if s.BandWidth <= squeezeWidthPct {
		out = append(out, flag("band_squeeze", CategoryVolatility, 8, BiasNeutral,
			"band width %.2f%%", s.BandWidth))
	}
	if prev != nil && prev.BandWidth > 0 && prev.BandWidth <= squeezeWidthPct &&
		s.BandWidth >= prev.BandWidth*squeezeReleaseMul {
		out = append(out, flag("squeeze_release", CategoryVolatility, 12, biasOf(s.Change1h),
			"band width %.2f%% -> %.2f%%", prev.BandWidth, s.BandWidth))
	}
	return out
}

func volumeFlags(s market.Snapshot) []Flag {
	if !finite(s.VolumeRatio) {
		return nil
	}
	switch {
	case s.VolumeRatio >= volumeSpikeRatio:
		return []Flag{flag("volume_spike", CategoryVolume, 15, biasOf(s.Change1h),
			"volume %.1fx average", s.VolumeRatio)}
	case s.VolumeRatio >= volumeElevatedRatio:
		return []Flag{flag("volume_elevated", CategoryVolume, 8, biasOf(s.Change1h),
			"volume %.1fx average", s.VolumeRatio)}
	}
	return nil
}

func structureFlags(s market.Snapshot, prev *market.Snapshot) []Flag {
	if s.EMAFast <= 0 || s.EMASlow <= 0 {
		return nil
	}
	var out []Flag
	if prev != nil && prev.EMAFast > 0 && prev.EMASlow > 0 {
		switch {
		case prev.EMAFast <= prev.EMASlow && s.EMAFast > s.EMASlow:
			out = append(out, flag("golden_cross", CategoryStructure, 18, BiasLong,
				"EMA fast crossed above slow"))
		case prev.EMAFast >= prev.EMASlow && s.EMAFast < s.EMASlow:
			out = append(out, flag("death_cross", CategoryStructure, 18, BiasShort,
				"EMA fast crossed below slow"))
		}
	}
	switch {
	case s.Trend == market.TrendUp && s.Price > s.EMAFast:
		out = append(out, flag("trend_aligned_up", CategoryStructure, 6, BiasLong,
			"price above rising averages"))
	case s.Trend == market.TrendDown && s.Price < s.EMAFast:
		out = append(out, flag("trend_aligned_down", CategoryStructure, 6, BiasShort,
			"price below falling averages"))
	}
	return out
}

func crossAssetFlags(s market.Snapshot) []Flag {
	var out []Flag
	switch {
	case s.FundingRate >= crowdedFunding:
		out = append(out, flag("crowded_longs", CategoryCrossAsset, 10, BiasShort,
			"funding %.4f%%/h", s.FundingRate*100))
	case s.FundingRate <= -crowdedFunding:
		out = append(out, flag("crowded_shorts", CategoryCrossAsset, 10, BiasLong,
			"funding %.4f%%/h", s.FundingRate*100))
	}
	if !finite(s.OIDeltaPct) {
		return out
	}
	switch {
	case s.OIDeltaPct >= oiBuildPct && s.Change1h != 0:
		out = append(out, flag("oi_build", CategoryCrossAsset, 8, biasOf(s.Change1h),
			"open interest +%.1f%%", s.OIDeltaPct))
	case s.OIDeltaPct <= oiFlushPct:
		out = append(out, flag("oi_flush", CategoryCrossAsset, 6, BiasNeutral,
			"open interest %.1f%%", s.OIDeltaPct))
	}
	return out
}
