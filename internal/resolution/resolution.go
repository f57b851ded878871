// Package resolution maps a continuous map zoom level to one of the fixed
// H3 aggregation resolutions the offline pipeline precomputes.
package resolution

// Available lists the resolutions the engine may select, smallest cells last.
var Available = []int{3, 4, 5, 6, 7}

// ForZoom is a deterministic step function over fixed zoom breakpoints.
// Intervals are right-closed: the boundary value belongs to the lower
// resolution. There is no hysteresis; oscillation near a breakpoint is
// absorbed by the permanent dataset cache, not here.
func ForZoom(zoom float64) int {
	switch {
	case zoom <= 4:
		return 3
	case zoom <= 5:
		return 4
	case zoom <= 6.5:
		return 5
	case zoom <= 8:
		return 6
	default:
		return 7
	}
}
