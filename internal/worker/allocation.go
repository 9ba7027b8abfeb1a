package worker

import (
	"math"
	"runtime"

	"errands/internal/domain"
)

// Extra slots added on top of the CPU-derived base.
const extraSlots = 4

// Percent of the total slots each category receives.
var shares = map[domain.Category]int{
	domain.Long:   50,
	domain.Medium: 30,
	domain.Short:  20,
}

// Allocation is the number of worker slots per category.
type Allocation map[domain.Category]int

// BaseParallelism is half the CPUs, at least 1.
func BaseParallelism(cpus int) int {
	if n := cpus / 2; n > 1 {
		return n
	}
	return 1
}

// TotalSlots is base plus the fixed headroom.
func TotalSlots(base int) int {
	if base < 1 {
		base = 1
	}
	return base + extraSlots
}

// Allocate splits TotalSlots(base) 50/30/20 across LONG/MEDIUM/SHORT. Every
// share is rounded on its own (half to even), so the sum may differ from the
// total by one.
func Allocate(base int) Allocation {
	total := TotalSlots(base)
	a := make(Allocation, len(shares))
	for c, pct := range shares {
		a[c] = int(math.RoundToEven(float64(total*pct) / 100))
	}
	return a
}

// DefaultAllocation sizes the pools from runtime.NumCPU, unless base > 0.
func DefaultAllocation(base int) Allocation {
	if base <= 0 {
		base = BaseParallelism(runtime.NumCPU())
	}
	return Allocate(base)
}
