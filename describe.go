package dtm

import (
	"fmt"
	"io"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// A Summary holds descriptive statistics of a column.
type Summary struct {
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// Describe returns the descriptive statistics of values. NaNs are ignored.
// The standard deviation is the sample standard deviation.
func Describe(values []float64) Summary {
	sorted := make([]float64, 0, len(values))
	for _, value := range values {
		if !math.IsNaN(value) {
			sorted = append(sorted, value)
		}
	}
	if len(sorted) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, Std: nan, Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
	}
	slices.Sort(sorted)

	summary := Summary{
		Count:  len(sorted),
		Min:    floats.Min(sorted),
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    floats.Max(sorted),
	}
	if len(sorted) == 1 {
		summary.Mean, summary.Std = sorted[0], math.NaN()
	} else {
		summary.Mean, summary.Std = stat.MeanStdDev(sorted, nil)
	}
	return summary
}

// quantile returns the q-quantile of sorted by linear interpolation between
// the closest ranks.
func quantile(sorted []float64, q float64) float64 {
	index := q * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// WriteDescription writes a table of the descriptive statistics of each of
// columns to w.
func WriteDescription(w io.Writer, names []string, columns [][]float64) error {
	summaries := make([]Summary, len(columns))
	for i, column := range columns {
		summaries[i] = Describe(column)
	}

	rows := []struct {
		label string
		value func(Summary) float64
	}{
		{"count", func(s Summary) float64 { return float64(s.Count) }},
		{"mean", func(s Summary) float64 { return s.Mean }},
		{"std", func(s Summary) float64 { return s.Std }},
		{"min", func(s Summary) float64 { return s.Min }},
		{"25%", func(s Summary) float64 { return s.Q1 }},
		{"50%", func(s Summary) float64 { return s.Median }},
		{"75%", func(s Summary) float64 { return s.Q3 }},
		{"max", func(s Summary) float64 { return s.Max }},
	}

	cells := make([][]string, len(rows))
	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}
	for i, row := range rows {
		cells[i] = make([]string, len(summaries))
		for j, summary := range summaries {
			cells[i][j] = fmt.Sprintf("%f", row.value(summary))
			width = max(width, len(cells[i][j]))
		}
	}

	if _, err := fmt.Fprintf(w, "%-5s", ""); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "  %*s", width, name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for i, row := range rows {
		if _, err := fmt.Fprintf(w, "%-5s", row.label); err != nil {
			return err
		}
		for _, cell := range cells[i] {
			if _, err := fmt.Fprintf(w, "  %*s", width, cell); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
