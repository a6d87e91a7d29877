package reconcile

// Bounds is an axis-aligned pixel rectangle [x1, y1, x2, y2].
// It marshals to a JSON array, matching the uiautomator bounds order.
type Bounds [4]int

// ParseBounds converts the uiautomator encoding "[x1,y1][x2,y2]" into a
// Bounds. It extracts the integer runs from the string and accepts the
// input only when exactly four are present; anything else reports ok=false
// and the node is dropped from the pool rather than treated as an error.
func ParseBounds(s string) (Bounds, bool) {
	var b Bounds
	n := 0
	i := 0
	for i < len(s) {
		if s[i] < '0' || s[i] > '9' {
			i++
			continue
		}
		v := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			v = v*10 + int(s[i]-'0')
			i++
		}
		if n == 4 {
			return Bounds{}, false
		}
		b[n] = v
		n++
	}
	if n != 4 {
		return Bounds{}, false
	}
	return b, true
}

// IoU computes the intersection-over-union of two rectangles.
// Returns 0 when the union area is 0 (degenerate rectangles), avoiding a
// division by zero. IoU(a, a) is 1 for any non-degenerate rectangle.
func IoU(a, b Bounds) float64 {
	ix1 := max(a[0], b[0])
	iy1 := max(a[1], b[1])
	ix2 := min(a[2], b[2])
	iy2 := min(a[3], b[3])

	inter := max(0, ix2-ix1) * max(0, iy2-iy1)

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])

	union := float64(areaA + areaB - inter)
	if union == 0 {
		return 0
	}
	return float64(inter) / union
}

// Contains reports whether inner lies within outer, inclusive on all four
// edges. Equal rectangles contain each other.
func Contains(outer, inner Bounds) bool {
	return outer[0] <= inner[0] && outer[1] <= inner[1] &&
		outer[2] >= inner[2] && outer[3] >= inner[3]
}

// toPixels converts a normalized [0,1] bbox to pixel bounds by truncation.
// Truncation (not rounding) matches the vision collaborator's own pixel
// mapping, keeping reconciliation output byte-stable across runs.
func toPixels(bbox [4]float64, width, height int) Bounds {
	return Bounds{
		int(bbox[0] * float64(width)),
		int(bbox[1] * float64(height)),
		int(bbox[2] * float64(width)),
		int(bbox[3] * float64(height)),
	}
}
