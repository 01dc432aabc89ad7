package exit

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decimalEps     = decimal.NewFromFloat(1e-8)
	decimalHundred = decimal.NewFromInt(100)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func absDiff(a, b float64) float64 {
	return decToFloat(decFromFloat(a).Sub(decFromFloat(b)).Abs())
}

// favorableMove 价格相对入场价朝盈利方向移动的距离，逆向为负。
func favorableMove(dir Direction, entry, price float64) decimal.Decimal {
	if dir == DirectionSell {
		return decFromFloat(entry).Sub(decFromFloat(price))
	}
	return decFromFloat(price).Sub(decFromFloat(entry))
}

// progressReached 判断 favorable / unit >= pct/100。unit 为 risk 或 potential_profit。
func progressReached(dir Direction, entry, price, unit, pct float64) bool {
	if unit <= 0 || price <= 0 {
		return false
	}
	progress := favorableMove(dir, entry, price).Div(decFromFloat(unit))
	threshold := decFromFloat(pct).Div(decimalHundred)
	return progress.Cmp(threshold) >= 0
}

// stopBehind 在 anchor 的亏损一侧放置 distance 距离的止损。
func stopBehind(dir Direction, anchor, distance decimal.Decimal) float64 {
	if dir == DirectionSell {
		return decToFloat(anchor.Add(distance))
	}
	return decToFloat(anchor.Sub(distance))
}

// moreProtective candidate 比 current 更靠近盈利方向（BUY 更高 / SELL 更低）。
func moreProtective(dir Direction, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if dir == DirectionSell {
		return cand.Cmp(curr.Sub(decimalEps)) < 0
	}
	return cand.Cmp(curr.Add(decimalEps)) > 0
}

// widerThan candidate 比 current 离入场价更远（BUY 更低 / SELL 更高）。
func widerThan(dir Direction, candidate, current float64) bool {
	if candidate <= 0 || current <= 0 {
		return false
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if dir == DirectionSell {
		return cand.Cmp(curr.Add(decimalEps)) > 0
	}
	return cand.Cmp(curr.Sub(decimalEps)) < 0
}

// onLossSide candidate 严格位于 reference 的亏损一侧。
func onLossSide(dir Direction, candidate, reference float64) bool {
	if dir == DirectionSell {
		return decimalCompare(candidate, reference) > 0
	}
	return decimalCompare(candidate, reference) < 0
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

// nearPrice |a-b| <= tolerance。
func nearPrice(a, b, tolerance float64) bool {
	diff := decFromFloat(a).Sub(decFromFloat(b)).Abs()
	return diff.Cmp(decFromFloat(tolerance).Add(decimalEps)) <= 0
}

// exceedsMinChange 变化量必须严格大于 price * pct / 100。
func exceedsMinChange(candidate, current, price, pct float64) bool {
	diff := decFromFloat(candidate).Sub(decFromFloat(current)).Abs()
	minChange := decFromFloat(price).Mul(decFromFloat(pct)).Div(decimalHundred)
	return diff.Cmp(minChange) > 0
}

func pctOf(value, pct float64) float64 {
	return decToFloat(decFromFloat(value).Mul(decFromFloat(pct)).Div(decimalHundred))
}

// partialCloseVolume 按 step 向下取整，并保证剩余仓位不低于 minVolume。
// 返回 0 表示本次不应平仓。
func partialCloseVolume(volume, closePct, step, minVolume float64) float64 {
	if volume <= 0 || closePct <= 0 || step <= 0 {
		return 0
	}
	vol := decFromFloat(volume)
	stepDec := decFromFloat(step)
	minDec := decFromFloat(minVolume)
	if vol.Cmp(minDec) <= 0 {
		return 0
	}
	raw := vol.Mul(decFromFloat(closePct)).Div(decimalHundred)
	steps := raw.Div(stepDec).Floor()
	closeVol := steps.Mul(stepDec)
	if maxClose := vol.Sub(minDec); closeVol.Cmp(maxClose) > 0 {
		closeVol = maxClose.Div(stepDec).Floor().Mul(stepDec)
	}
	if closeVol.Cmp(minDec) < 0 || closeVol.Sign() <= 0 {
		return 0
	}
	return decToFloat(closeVol)
}
