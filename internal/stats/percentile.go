package stats

import (
	"math"
	"time"

	"github.com/yairfalse/cyclictest/pkg/domain"
)

// Percentile estimates the latency below which a fraction p of the samples
// fall, using the upper bound of the matching histogram bucket capped at the
// observed maximum. ok is false without samples or when the percentile lands
// in the overflow region.
func Percentile(s *domain.ThreadStatistics, layout Layout, p float64) (time.Duration, bool) {
	if s.Count == 0 || p < 0 || p > 1 {
		return 0, false
	}
	if p == 0 {
		return time.Duration(s.Min), true
	}

	target := uint64(math.Ceil(p * float64(s.Count)))
	if target == 0 {
		target = 1
	}

	var cumulative uint64
	for i, c := range s.Histogram {
		cumulative += c
		if cumulative >= target {
			upper := uint64(i+1) * uint64(layout.BucketWidth)
			if upper > s.Max {
				upper = s.Max
			}
			return time.Duration(upper), true
		}
	}
	return 0, false
}
