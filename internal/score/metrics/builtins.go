package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// IC is the Spearman rank correlation between a model's signals and the
// realized returns they predicted, buffered in memory for the tick's
// window.
func IC(ctx Context) (float64, error) {
	n := len(ctx.Signals)
	if n < 2 || n != len(ctx.Realized) {
		return 0, ErrUndefined{Metric: "ic"}
	}
	return spearman(ctx.Signals, ctx.Realized), nil
}

// ICSharpe is the mean divided by the sample stddev of per-bucket IC. The
// window is split into consecutive buckets of 4 (signal, realized) pairs,
// dropping any trailing remainder, and each bucket's IC is the Spearman
// correlation over its pairs. Undefined with fewer than 2 buckets or a
// zero stddev.
func ICSharpe(ctx Context) (float64, error) {
	n := len(ctx.Signals)
	if n < 2 || n != len(ctx.Realized) {
		return 0, ErrUndefined{Metric: "ic_sharpe"}
	}
	const bucketSize = 4
	var buckets []float64
	for start := 0; start+bucketSize <= n; start += bucketSize {
		buckets = append(buckets, spearman(ctx.Signals[start:start+bucketSize], ctx.Realized[start:start+bucketSize]))
	}
	if len(buckets) < 2 {
		return 0, ErrUndefined{Metric: "ic_sharpe"}
	}
	mean := stat.Mean(buckets, nil)
	sd := stat.StdDev(buckets, nil)
	if sd == 0 {
		return 0, ErrUndefined{Metric: "ic_sharpe"}
	}
	return mean / sd, nil
}

// HitRate is the fraction of predictions whose signal sign agrees with the
// realized return's sign.
func HitRate(ctx Context) (float64, error) {
	n := len(ctx.Signals)
	if n == 0 || n != len(ctx.Realized) {
		return 0, ErrUndefined{Metric: "hit_rate"}
	}
	hits := 0
	for i := range ctx.Signals {
		if sameSign(ctx.Signals[i], ctx.Realized[i]) {
			hits++
		}
	}
	return float64(hits) / float64(n), nil
}

// MeanReturn is the arithmetic mean of realized returns over the window.
func MeanReturn(ctx Context) (float64, error) {
	if len(ctx.Realized) == 0 {
		return 0, ErrUndefined{Metric: "mean_return"}
	}
	return mean(ctx.Realized), nil
}

// MaxDrawdown is the worst peak-to-trough decline of cumulative realized
// returns over the window, in chronological (insertion) order.
func MaxDrawdown(ctx Context) (float64, error) {
	if len(ctx.Realized) == 0 {
		return 0, ErrUndefined{Metric: "max_drawdown"}
	}
	cumulative, peak, worst := 0.0, 0.0, 0.0
	for _, r := range ctx.Realized {
		cumulative += r
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > worst {
			worst = dd
		}
	}
	return worst, nil
}

// SortinoRatio is mean return divided by downside deviation (stddev of
// negative returns only), a drawdown-sensitive alternative to a plain
// sharpe ratio.
func SortinoRatio(ctx Context) (float64, error) {
	n := len(ctx.Realized)
	if n == 0 {
		return 0, ErrUndefined{Metric: "sortino_ratio"}
	}
	m := mean(ctx.Realized)
	var downside []float64
	for _, r := range ctx.Realized {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0, ErrUndefined{Metric: "sortino_ratio"}
	}
	dd := sampleStddev(downside, mean(downside))
	if dd == 0 {
		return 0, ErrUndefined{Metric: "sortino_ratio"}
	}
	return m / dd, nil
}

// Turnover is the mean absolute change in consecutive signals, approximating
// how often a model flips its prediction.
func Turnover(ctx Context) (float64, error) {
	n := len(ctx.Signals)
	if n < 2 {
		return 0, ErrUndefined{Metric: "turnover"}
	}
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += math.Abs(ctx.Signals[i] - ctx.Signals[i-1])
	}
	return sum / float64(n-1), nil
}

// ModelCorrelation is the mean pairwise Spearman correlation between this
// model's signals and every other real (non-ensemble) model's signals over
// the same window, a crowding diagnostic.
func ModelCorrelation(ctx Context) (float64, error) {
	if len(ctx.AllModelSignals) < 2 {
		return 0, ErrUndefined{Metric: "model_correlation"}
	}
	mine, ok := ctx.AllModelSignals[ctx.ModelID]
	if !ok || len(mine) < 2 {
		return 0, ErrUndefined{Metric: "model_correlation"}
	}
	var corrs []float64
	for id, other := range ctx.AllModelSignals {
		if id == ctx.ModelID || len(other) != len(mine) {
			continue
		}
		corrs = append(corrs, spearman(mine, other))
	}
	if len(corrs) == 0 {
		return 0, ErrUndefined{Metric: "model_correlation"}
	}
	return mean(corrs), nil
}

// FNC (feature-neutralized correlation) approximates neutralizing a model's
// signal against the ensemble consensus before scoring IC against realized
// returns, gated on at least one ensemble being configured and populated.
func FNC(ctx Context) (float64, error) {
	consensus, ok := ctx.EnsembleSignals["__consensus__"]
	mine, mok := ctx.AllModelSignals[ctx.ModelID]
	if !ok || !mok || len(consensus) != len(mine) || len(mine) < 2 {
		return 0, ErrUndefined{Metric: "fnc"}
	}
	neutralized := make([]float64, len(mine))
	beta := projectionCoefficient(consensus, mine)
	for i := range mine {
		neutralized[i] = mine[i] - beta*consensus[i]
	}
	if len(neutralized) != len(ctx.Realized) {
		return 0, ErrUndefined{Metric: "fnc"}
	}
	return spearman(neutralized, ctx.Realized), nil
}

// Contribution is how much an ensemble's realized IC would fall if this
// model's signal were withheld, approximated as (ensemble IC) - (IC of the
// ensemble average excluding this model).
func Contribution(ctx Context) (float64, error) {
	withAll, ok := ctx.EnsembleSignals["__consensus__"]
	if !ok || len(withAll) != len(ctx.Realized) || len(withAll) < 2 {
		return 0, ErrUndefined{Metric: "contribution"}
	}
	mine, mok := ctx.AllModelSignals[ctx.ModelID]
	if !mok || len(mine) != len(withAll) {
		return 0, ErrUndefined{Metric: "contribution"}
	}
	n := float64(len(ctx.AllModelSignals))
	if n < 2 {
		return 0, ErrUndefined{Metric: "contribution"}
	}
	withoutMine := make([]float64, len(withAll))
	for i := range withAll {
		withoutMine[i] = (withAll[i]*n - mine[i]) / (n - 1)
	}
	icWith := spearman(withAll, ctx.Realized)
	icWithout := spearman(withoutMine, ctx.Realized)
	return icWith - icWithout, nil
}

// EnsembleCorrelation is the Spearman correlation between this model's
// signal and the ensemble consensus signal, measuring redundancy.
func EnsembleCorrelation(ctx Context) (float64, error) {
	consensus, ok := ctx.EnsembleSignals["__consensus__"]
	mine, mok := ctx.AllModelSignals[ctx.ModelID]
	if !ok || !mok || len(consensus) != len(mine) || len(mine) < 2 {
		return 0, ErrUndefined{Metric: "ensemble_correlation"}
	}
	return spearman(mine, consensus), nil
}

func spearman(a, b []float64) float64 {
	ra := make([]float64, len(a))
	rb := make([]float64, len(b))
	copy(ra, a)
	copy(rb, b)
	ranksA := rank(ra)
	ranksB := rank(rb)
	return stat.Correlation(ranksA, ranksB, nil)
}

// rank converts values to their fractional ranks (average rank for ties),
// the transform Spearman's correlation applies before a Pearson correlation.
func rank(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sortIdxByValue(idx, values)

	ranks := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avgRank
		}
		i = j + 1
	}
	return ranks
}

func sortIdxByValue(idx []int, values []float64) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && values[idx[j-1]] > values[idx[j]]; j-- {
			idx[j-1], idx[j] = idx[j], idx[j-1]
		}
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	return (a > 0) == (b > 0)
}

// projectionCoefficient is the least-squares beta of y on x (y ~ beta*x),
// used by FNC to neutralize a model's signal against ensemble consensus.
func projectionCoefficient(x, y []float64) float64 {
	var dot, normSq float64
	for i := range x {
		dot += x[i] * y[i]
		normSq += x[i] * x[i]
	}
	if normSq == 0 {
		return 0
	}
	return dot / normSq
}
