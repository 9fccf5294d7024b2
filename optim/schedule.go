package optim

import "math"

// Schedule maps a 1-based optimizer step to a learning rate.
type Schedule interface {
	LR(step int) float64
}

// Constant is a fixed learning rate.
type Constant float64

func (c Constant) LR(int) float64 { return float64(c) }

// Warmup is the Transformer schedule Base·min(step^-0.5, step·WarmupSteps^-1.5):
// linear growth for WarmupSteps steps, then inverse square-root decay.
// The peak, Base/√WarmupSteps, is reached at step == WarmupSteps.
type Warmup struct {
	Base        float64
	WarmupSteps int
}

func (w Warmup) LR(step int) float64 {
	if step < 1 {
		step = 1
	}
	s := float64(step)
	return w.Base * math.Min(1/math.Sqrt(s), s*math.Pow(float64(w.WarmupSteps), -1.5))
}

// Cosine anneals from Base to 1% of Base over TotalSteps, then holds.
type Cosine struct {
	Base       float64
	TotalSteps int
}

func (c Cosine) LR(step int) float64 {
	lrMin := c.Base * 0.01
	if c.TotalSteps <= 0 || step >= c.TotalSteps {
		return lrMin
	}
	cosine := 0.5 * (1.0 + math.Cos(math.Pi*float64(step)/float64(c.TotalSteps)))
	return lrMin + (c.Base-lrMin)*cosine
}
