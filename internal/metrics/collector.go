package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// #region constants

const (
	shortWindow  = 100
	longWindow   = 500
	slopeSamples = 30   // moving-average samples fed to the regression
	maxLosses    = 1000 // bounded loss history
	maxTDErrors  = 2048 // bounded TD-error history
)

// #endregion constants

// #region collector

// Collector maintains rolling windows over completed episodes and learner
// losses. Single-writer, like every other control-plane component.
type Collector struct {
	episodes []EpisodeRecord // last longWindow records, oldest first
	maSeries []float64       // moving average of score, one sample per episode
	losses   []float64
	tdErrors []float64
	total    int
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Episodes returns the total number of recorded episodes.
func (c *Collector) Episodes() int {
	return c.total
}

// #endregion collector

// #region record

// RecordEpisode appends a finished episode to the rolling windows.
func (c *Collector) RecordEpisode(rec EpisodeRecord) {
	c.episodes = append(c.episodes, rec)
	if len(c.episodes) > longWindow {
		c.episodes = c.episodes[1:]
	}
	c.total++

	c.maSeries = append(c.maSeries, c.windowScoreMean(shortWindow))
	if len(c.maSeries) > longWindow {
		c.maSeries = c.maSeries[1:]
	}
}

// RecordLoss appends a learner loss and the batch's absolute TD errors.
func (c *Collector) RecordLoss(loss float64, tdErrors []float64) {
	c.losses = append(c.losses, loss)
	if len(c.losses) > maxLosses {
		c.losses = c.losses[1:]
	}
	for _, td := range tdErrors {
		c.tdErrors = append(c.tdErrors, math.Abs(td))
	}
	if len(c.tdErrors) > maxTDErrors {
		c.tdErrors = c.tdErrors[len(c.tdErrors)-maxTDErrors:]
	}
}

// #endregion record

// #region summary

// Summary computes a point-in-time view over the current windows.
func (c *Collector) Summary() Summary {
	s := Summary{Episodes: c.total}
	if len(c.episodes) == 0 {
		return s
	}

	short := c.window(shortWindow)
	long := c.episodes

	s.AvgReward100 = meanOf(short, func(r EpisodeRecord) float64 { return r.Reward })
	s.AvgReward500 = meanOf(long, func(r EpisodeRecord) float64 { return r.Reward })
	s.AvgScore100 = meanOf(short, func(r EpisodeRecord) float64 { return float64(r.Fruits) })
	s.AvgScore500 = meanOf(long, func(r EpisodeRecord) float64 { return float64(r.Fruits) })
	s.AvgLength100 = meanOf(short, func(r EpisodeRecord) float64 { return float64(r.Length) })
	s.AvgLength500 = meanOf(long, func(r EpisodeRecord) float64 { return float64(r.Length) })

	var wall, self, starve, looped int
	var revisits, steps float64
	var ttg []float64
	for _, r := range short {
		switch r.Cause {
		case TerminalWall:
			wall++
		case TerminalSelf:
			self++
		case TerminalStarved:
			starve++
		}
		if r.LoopHits > 0 {
			looped++
		}
		revisits += float64(r.Revisits)
		steps += float64(r.Length)
		for _, t := range r.TimeToGoal {
			ttg = append(ttg, float64(t))
		}
	}
	n := float64(len(short))
	s.WallRate = float64(wall) / n
	s.SelfRate = float64(self) / n
	s.StarveRate = float64(starve) / n
	s.LoopHitRate = float64(looped) / n
	if steps > 0 {
		s.RevisitRate = revisits / steps
	}
	if len(ttg) > 0 {
		s.MeanTimeToGoal = stat.Mean(ttg, nil)
	}

	if len(c.losses) > 0 {
		s.LossMean = stat.Mean(c.losses, nil)
		if len(c.losses) > 1 {
			s.LossStd = stat.StdDev(c.losses, nil)
		}
	}

	s.ScoreSlope = c.scoreSlope()
	s.TDErrorRatio = c.tdErrorRatio()
	return s
}

// scoreSlope fits a least-squares line through the most recent moving-average
// samples and returns its slope.
func (c *Collector) scoreSlope() float64 {
	series := c.maSeries
	if len(series) > slopeSamples {
		series = series[len(series)-slopeSamples:]
	}
	if len(series) < 2 {
		return 0
	}
	xs := make([]float64, len(series))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, series, nil, false)
	return slope
}

// tdErrorRatio returns p95/p50 over the recent absolute TD errors.
func (c *Collector) tdErrorRatio() float64 {
	if len(c.tdErrors) < 10 {
		return 0
	}
	sorted := make([]float64, len(c.tdErrors))
	copy(sorted, c.tdErrors)
	sort.Float64s(sorted)
	p50 := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	p95 := stat.Quantile(0.95, stat.Empirical, sorted, nil)
	if p50 <= 0 {
		return 0
	}
	return p95 / p50
}

// #endregion summary

// #region improvement

// FruitImprovement compares the mean of the most recent half-window of score
// moving-averages against the preceding half-window. A crude two-sample
// trend, not a significance test.
func (c *Collector) FruitImprovement(window int) float64 {
	if window < 2 {
		return 0
	}
	series := c.maSeries
	if len(series) < window {
		window = len(series)
	}
	if window < 2 {
		return 0
	}
	series = series[len(series)-window:]
	half := window / 2
	prev := stat.Mean(series[:half], nil)
	recent := stat.Mean(series[len(series)-half:], nil)
	return recent - prev
}

// #endregion improvement

// #region helpers

// window returns the newest n episode records.
func (c *Collector) window(n int) []EpisodeRecord {
	if len(c.episodes) <= n {
		return c.episodes
	}
	return c.episodes[len(c.episodes)-n:]
}

// windowScoreMean is the mean fruit count over the newest n records.
func (c *Collector) windowScoreMean(n int) float64 {
	w := c.window(n)
	if len(w) == 0 {
		return 0
	}
	return meanOf(w, func(r EpisodeRecord) float64 { return float64(r.Fruits) })
}

func meanOf(recs []EpisodeRecord, f func(EpisodeRecord) float64) float64 {
	if len(recs) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range recs {
		sum += f(r)
	}
	return sum / float64(len(recs))
}

// #endregion helpers
