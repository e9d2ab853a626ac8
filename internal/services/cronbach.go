package services

// CronbachAlpha estimates the internal consistency of survey ratings.
// matrix is [respondents][items]; ragged rows, fewer than two respondents or
// fewer than two items yield 0. Variances are population variances, so
// perfectly correlated items give 1. The result is clamped to [0, 1].
func CronbachAlpha(matrix [][]float64) float64 {
	n := len(matrix)
	if n < 2 {
		return 0
	}
	k := len(matrix[0])
	if k < 2 {
		return 0
	}
	totals := make([]float64, n)
	for i, row := range matrix {
		if len(row) != k {
			return 0
		}
		for _, v := range row {
			totals[i] += v
		}
	}
	var itemVarSum float64
	column := make([]float64, n)
	for j := 0; j < k; j++ {
		for i := range matrix {
			column[i] = matrix[i][j]
		}
		itemVarSum += populationVariance(column)
	}
	totalVar := populationVariance(totals)
	if totalVar == 0 {
		return 0
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - itemVarSum/totalVar)
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

func populationVariance(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs))
}
