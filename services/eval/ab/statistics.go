// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import (
	"encoding/json"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// SignificanceLevel is the p-value threshold below which a difference
	// is considered statistically significant.
	SignificanceLevel = 0.05

	// ConfidenceLevel is reported alongside every comparison.
	ConfidenceLevel = 0.95

	// normalFallbackDF is the degrees of freedom above which the Student's
	// t distribution is replaced by the standard normal.
	normalFallbackDF = 1e7
)

// -----------------------------------------------------------------------------
// Welch's t-test
// -----------------------------------------------------------------------------

// TTestResult holds the result of a two-sample t-test.
type TTestResult struct {
	// T is the t-statistic for mean(b) - mean(a). May be ±Inf when both
	// samples have zero variance but different means.
	T float64

	// DF is the Welch-Satterthwaite degrees of freedom. Zero for
	// degenerate inputs.
	DF float64

	// PValue is the two-tailed p-value in [0, 1].
	PValue float64
}

// Significant reports whether PValue is below SignificanceLevel.
func (r TTestResult) Significant() bool {
	return r.PValue < SignificanceLevel
}

// WelchTTest performs Welch's two-sample t-test.
//
// Description:
//
//	Tests whether mean(b) differs from mean(a) without assuming equal
//	variances. Variances are population variances (divided by n) so the
//	statistic agrees with the aggregate package. The two-tailed p-value is
//	2 * (1 - CDF(|t|, df)) under the Student's t distribution.
//
//	Degenerate inputs resolve to neutral values instead of errors:
//	  - either sample empty: t=0, p=1
//	  - zero standard error, equal means: t=0, p=1
//	  - zero standard error, different means: t=±Inf, p=0
//
// Inputs:
//   - a: Baseline sample. Not modified.
//   - b: Candidate sample. Not modified.
//
// Outputs:
//   - TTestResult: Never an error.
func WelchTTest(a, b []float64) TTestResult {
	na, nb := float64(len(a)), float64(len(b))
	if na == 0 || nb == 0 {
		return TTestResult{T: 0, PValue: 1}
	}

	meanA, varA := stat.PopMeanVariance(a, nil)
	meanB, varB := stat.PopMeanVariance(b, nil)
	varA, varB = math.Max(varA, 0), math.Max(varB, 0)

	termA := varA / na
	termB := varB / nb
	se := math.Sqrt(termA + termB)
	diff := meanB - meanA

	if se == 0 {
		if diff == 0 {
			return TTestResult{T: 0, PValue: 1}
		}
		return TTestResult{T: math.Copysign(math.Inf(1), diff), PValue: 0}
	}

	t := diff / se

	// A sample of one has no variance term in the denominator.
	var denom float64
	if na > 1 {
		denom += termA * termA / (na - 1)
	}
	if nb > 1 {
		denom += termB * termB / (nb - 1)
	}
	df := math.Inf(1)
	if denom > 0 {
		df = (termA + termB) * (termA + termB) / denom
	}

	return TTestResult{T: t, DF: df, PValue: twoTailedP(t, df)}
}

// twoTailedP returns 2 * (1 - CDF(|t|)) for the t distribution with df
// degrees of freedom, falling back to the standard normal for infinite
// or very large df.
func twoTailedP(t, df float64) float64 {
	abs := math.Abs(t)
	var cdf float64
	if math.IsInf(df, 0) || math.IsNaN(df) || df > normalFallbackDF {
		cdf = distuv.UnitNormal.CDF(abs)
	} else {
		cdf = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.CDF(abs)
	}
	p := 2 * (1 - cdf)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// MarshalJSON encodes non-finite values as strings ("+Inf", "-Inf",
// "NaN") since JSON has no literal for them.
func (r TTestResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		T      any     `json:"t"`
		DF     any     `json:"df"`
		PValue float64 `json:"p_value"`
	}{jsonFloat(r.T), jsonFloat(r.DF), r.PValue})
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON.
func (r *TTestResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		T      json.RawMessage `json:"t"`
		DF     json.RawMessage `json:"df"`
		PValue float64         `json:"p_value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := parseJSONFloat(raw.T)
	if err != nil {
		return err
	}
	df, err := parseJSONFloat(raw.DF)
	if err != nil {
		return err
	}
	*r = TTestResult{T: t, DF: df, PValue: raw.PValue}
	return nil
}

func jsonFloat(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}

func parseJSONFloat(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	err := json.Unmarshal(raw, &f)
	return f, err
}

// -----------------------------------------------------------------------------
// Effect Size
// -----------------------------------------------------------------------------

// EffectSizeCategory is the conventional label for a Cohen's d magnitude.
type EffectSizeCategory int

const (
	EffectNegligible EffectSizeCategory = iota
	EffectSmall
	EffectMedium
	EffectLarge
)

// String returns the lowercase label.
func (e EffectSizeCategory) String() string {
	switch e {
	case EffectNegligible:
		return "negligible"
	case EffectSmall:
		return "small"
	case EffectMedium:
		return "medium"
	case EffectLarge:
		return "large"
	default:
		return "unknown"
	}
}

// CategorizeEffectSize maps |d| to Cohen's thresholds 0.2 / 0.5 / 0.8.
func CategorizeEffectSize(d float64) EffectSizeCategory {
	abs := math.Abs(d)
	switch {
	case abs < 0.2:
		return EffectNegligible
	case abs < 0.5:
		return EffectSmall
	case abs < 0.8:
		return EffectMedium
	default:
		return EffectLarge
	}
}

// CohensD computes the standardized mean difference (mean(b)-mean(a))
// over the pooled standard deviation.
//
// Description:
//
//	pooled = sqrt(((na-1)*va + (nb-1)*vb) / (na+nb-2)) with va, vb the
//	unbiased sample variances. Returns 0 when the pooled deviation is
//	zero or undefined (fewer than two observations in total, or both
//	samples constant). CohensD(a, b) == -CohensD(b, a).
func CohensD(a, b []float64) float64 {
	na, nb := float64(len(a)), float64(len(b))
	if na == 0 || nb == 0 || na+nb-2 <= 0 {
		return 0
	}

	meanA, meanB := stat.Mean(a, nil), stat.Mean(b, nil)
	var ssA, ssB float64
	if na > 1 {
		ssA = (na - 1) * stat.Variance(a, nil)
	}
	if nb > 1 {
		ssB = (nb - 1) * stat.Variance(b, nil)
	}
	pooled := math.Sqrt((ssA + ssB) / (na + nb - 2))
	if pooled == 0 || math.IsNaN(pooled) {
		return 0
	}
	return (meanB - meanA) / pooled
}

// -----------------------------------------------------------------------------
// Sample Size
// -----------------------------------------------------------------------------

// MinimumSampleSize returns the advisory per-arm sample size for an
// expected effect size: 50 below |d|=0.3, 30 below |d|=0.5, else 20.
func MinimumSampleSize(effect float64) int {
	abs := math.Abs(effect)
	switch {
	case abs < 0.3:
		return 50
	case abs < 0.5:
		return 30
	default:
		return 20
	}
}

// SampleSizeCheck reports whether n meets the advisory minimum for the
// given effect size. It never influences the Recommendation.
func SampleSizeCheck(n int, effect float64) bool {
	return n >= MinimumSampleSize(effect)
}
