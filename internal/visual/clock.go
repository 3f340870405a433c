package visual

import "time"

// FrameClock paces the draw loop, one tick per display frame
type FrameClock interface {
	Frames() <-chan time.Time
	Stop()
}

type tickerClock struct {
	ticker *time.Ticker
}

// NewTickerClock returns a clock ticking fps times per second
func NewTickerClock(fps int) FrameClock {
	if fps <= 0 {
		fps = 30
	}
	return &tickerClock{ticker: time.NewTicker(time.Second / time.Duration(fps))}
}

func (c *tickerClock) Frames() <-chan time.Time { return c.ticker.C }

func (c *tickerClock) Stop() { c.ticker.Stop() }
