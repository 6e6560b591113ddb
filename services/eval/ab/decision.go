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
	"math"
)

// -----------------------------------------------------------------------------
// Recommendation Types
// -----------------------------------------------------------------------------

// Recommendation is the suggested action for a candidate configuration.
type Recommendation int

const (
	// NeedMoreData indicates the comparison is inconclusive.
	NeedMoreData Recommendation = iota

	// Adopt indicates the candidate (B) should replace the baseline (A).
	Adopt

	// Reject indicates the candidate should not be adopted.
	Reject

	// Investigate indicates a moderate accuracy gain worth a closer look.
	Investigate
)

// String returns the string representation.
func (r Recommendation) String() string {
	switch r {
	case NeedMoreData:
		return "need_more_data"
	case Adopt:
		return "adopt"
	case Reject:
		return "reject"
	case Investigate:
		return "investigate"
	default:
		return "unknown"
	}
}

// Description returns a one-line human explanation.
func (r Recommendation) Description() string {
	switch r {
	case Adopt:
		return "candidate is a measurable improvement; adopt it"
	case Reject:
		return "candidate is not an improvement; keep the baseline"
	case Investigate:
		return "candidate shows a moderate gain; investigate before adopting"
	default:
		return "results are inconclusive; run more tasks"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Recommendation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Recommendation) UnmarshalText(text []byte) error {
	switch string(text) {
	case "need_more_data":
		*r = NeedMoreData
	case "adopt":
		*r = Adopt
	case "reject":
		*r = Reject
	case "investigate":
		*r = Investigate
	default:
		return fmt.Errorf("unknown recommendation %q", string(text))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Decision Policy
// -----------------------------------------------------------------------------

// Decide applies the recommendation policy to a comparison's deltas.
//
// Description:
//
//	Rules are evaluated top to bottom and the first match wins. Some
//	inputs satisfy both an earlier Adopt rule and a later Reject rule;
//	the earlier rule takes precedence.
//
//	 1. not significant and |Δaccuracy| < 2           -> NeedMoreData
//	 2. Δaccuracy >= 2, Δcost% < 20, significant      -> Adopt
//	 3. Δcost% <= -20, Δaccuracy >= -0.5              -> Adopt
//	 4. Δduration% <= -30, Δaccuracy >= -0.5, Δcost% < 20 -> Adopt
//	 5. Δaccuracy < 1, not significant                -> Reject
//	 6. Δcost% > 30, Δaccuracy < 2                    -> Reject
//	 7. Δaccuracy < -1                                -> Reject
//	 8. 1 <= Δaccuracy < 2                            -> Investigate
//	 9. otherwise                                     -> NeedMoreData
//
// Inputs:
//   - d: Deltas of candidate minus baseline. Accuracy is in points.
//   - accuracySignificant: Whether the accuracy t-test was significant.
func Decide(d DeltaMetrics, accuracySignificant bool) Recommendation {
	acc := d.Accuracy
	switch {
	case !accuracySignificant && math.Abs(acc) < 2.0:
		return NeedMoreData
	case acc >= 2.0 && d.CostPct < 20.0 && accuracySignificant:
		return Adopt
	case d.CostPct <= -20.0 && acc >= -0.5:
		return Adopt
	case d.DurationPct <= -30.0 && acc >= -0.5 && d.CostPct < 20.0:
		return Adopt
	case acc < 1.0 && !accuracySignificant:
		return Reject
	case d.CostPct > 30.0 && acc < 2.0:
		return Reject
	case acc < -1.0:
		return Reject
	case acc >= 1.0 && acc < 2.0:
		return Investigate
	default:
		return NeedMoreData
	}
}
