package tariff

import "sort"

// classifyWindow assigns a Classification to every point in the slice,
// using the percentile thresholds computed over the non-negative
// subset. It returns a new slice; the input is left unmodified.
func classifyWindow(points []PricePoint) []PricePoint {
	out := make([]PricePoint, len(points))
	copy(out, points)

	nonNegative := make([]float64, 0, len(out))
	for _, p := range out {
		if p.UnitPrice >= 0 {
			nonNegative = append(nonNegative, p.UnitPrice)
		}
	}
	sort.Float64s(nonNegative)

	cheapThreshold := percentile(nonNegative, 0.33)
	expensiveThreshold := percentile(nonNegative, 0.67)

	for i := range out {
		out[i].Classification = classifyOne(out[i].UnitPrice, cheapThreshold, expensiveThreshold)
	}
	return out
}

func classifyOne(price, cheapThreshold, expensiveThreshold float64) Classification {
	switch {
	case price < 0:
		return Negative
	case price <= cheapThreshold:
		return Cheap
	case price >= expensiveThreshold:
		return Expensive
	default:
		return Normal
	}
}

// percentile returns the value at the given percentile (0..1) of a
// sorted ascending slice using linear interpolation between closest
// ranks. Returns 0 for an empty slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p * float64(n-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
