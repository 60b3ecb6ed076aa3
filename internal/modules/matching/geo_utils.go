// README: Pure geographic helpers for the in-memory index.
package matching

import "movedispatch/internal/types"

func distanceMeters(a, b types.Point) float64 {
	return types.DistanceKm(a, b) * 1000
}

// sortByDistance performs a stable insertion sort (fine for small N) on any
// slice where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
