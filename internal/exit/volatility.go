package exit

import (
	"fmt"
	"sort"
)

// VIXTier VIX <= UpTo 时使用 Multiplier；UpTo <= 0 表示无上限档。
type VIXTier struct {
	UpTo       float64 `json:"up_to" yaml:"up_to"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

type VIXTiers []VIXTier

func DefaultVIXTiers() VIXTiers {
	return VIXTiers{
		{UpTo: 20, Multiplier: 1.0},
		{UpTo: 25, Multiplier: 1.25},
		{UpTo: 30, Multiplier: 1.5},
		{UpTo: 0, Multiplier: 2.0},
	}
}

// Normalize 按上限升序排列，无上限档放在最后。
func (t VIXTiers) Normalize() VIXTiers {
	out := append(VIXTiers(nil), t...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].UpTo, out[j].UpTo
		if a <= 0 {
			return false
		}
		if b <= 0 {
			return true
		}
		return a < b
	})
	return out
}

func (t VIXTiers) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("vix tiers must not be empty")
	}
	open := 0
	for i, tier := range t {
		if tier.Multiplier <= 0 {
			return fmt.Errorf("vix tier %d: multiplier must be > 0", i)
		}
		if tier.UpTo <= 0 {
			open++
		}
	}
	if open != 1 {
		return fmt.Errorf("vix tiers need exactly one open-ended tier, got %d", open)
	}
	return nil
}

// Multiplier 返回 vix 所在档位的系数，调用方需先 Normalize。
func (t VIXTiers) Multiplier(vix float64) float64 {
	for _, tier := range t {
		if tier.UpTo <= 0 || vix <= tier.UpTo {
			return tier.Multiplier
		}
	}
	return 1
}
