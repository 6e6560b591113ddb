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
	"fmt"
	"io"
	"strings"
)

// WriteSummary prints a human-readable summary of the comparison.
//
// The layout is informational and may change; the numbers and the
// recommendation are those stored in the result.
func (r ComparisonResult) WriteSummary(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "A/B comparison: %s (A, n=%d) vs %s (B, n=%d)\n",
		r.ConfigA, r.CountA, r.ConfigB, r.CountB)
	b.WriteString(strings.Repeat("-", 60) + "\n")

	fmt.Fprintf(&b, "Accuracy:   %6.2f%% -> %6.2f%%  (%+.2f pts, p=%.4f, %s)\n",
		r.AccuracyA, r.AccuracyB, r.Delta.Accuracy,
		r.Significance.Accuracy.PValue, significance(r.Significance.AccuracySignificant))
	fmt.Fprintf(&b, "Cost/task:  $%.4f -> $%.4f  (%+.4f USD, %+.2f%%, p=%.4f, %s)\n",
		r.CostA, r.CostB, r.Delta.CostUSD, r.Delta.CostPct,
		r.Significance.Cost.PValue, significance(r.Significance.CostSignificant))
	fmt.Fprintf(&b, "Duration:   %+.0f ms (%+.2f%%)\n", r.Delta.DurationMs, r.Delta.DurationPct)
	fmt.Fprintf(&b, "Effect size (Cohen's d): %.3f (%s)\n", r.Advisory.EffectSize, r.Advisory.EffectCategory)
	if !r.Advisory.SampleSizeAdequate {
		fmt.Fprintf(&b, "Note: advisory minimum is %d tasks per configuration for this effect size\n",
			r.Advisory.MinimumSampleSize)
	}
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", r.Significance.Confidence*100)
	fmt.Fprintf(&b, "Recommendation: %s (%s)\n",
		strings.ToUpper(r.Recommendation.String()), r.Recommendation.Description())

	_, err := io.WriteString(w, b.String())
	return err
}

// Summary returns the text produced by WriteSummary.
func (r ComparisonResult) Summary() string {
	var b strings.Builder
	_ = r.WriteSummary(&b)
	return b.String()
}

func significance(ok bool) string {
	if ok {
		return "significant"
	}
	return "not significant"
}
