package retry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// 延迟序列：不低于初始值、不超过上限（无抖动时），且单调不减
func TestProperty_DelayScheduleBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("delays stay within [initial, max] and never decrease", prop.ForAll(
		func(initialMs int, maxFactor int, multiplier float64, attempts int) bool {
			policy := &RetryPolicy{
				InitialDelay: time.Duration(initialMs) * time.Millisecond,
				MaxDelay:     time.Duration(initialMs*maxFactor) * time.Millisecond,
				Multiplier:   multiplier,
			}

			prev := time.Duration(0)
			for attempt := 1; attempt <= attempts; attempt++ {
				d := Delay(policy, attempt)
				if d < policy.InitialDelay || d > policy.MaxDelay || d < prev {
					t.Logf("attempt %d: delay %v out of bounds (prev %v)", attempt, d, prev)
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(1, 2000),
		gen.IntRange(1, 64),
		gen.Float64Range(1.0, 4.0),
		gen.IntRange(1, 12),
	))

	properties.Property("jittered delay stays within 25% of the base delay", prop.ForAll(
		func(initialMs int, attempt int) bool {
			base := &RetryPolicy{
				InitialDelay: time.Duration(initialMs) * time.Millisecond,
				MaxDelay:     time.Hour,
				Multiplier:   2.0,
			}
			jittered := *base
			jittered.Jitter = true

			want := float64(Delay(base, attempt))
			got := float64(Delay(&jittered, attempt))
			return got >= float64(base.InitialDelay) && got <= want*1.25+1
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
