// internal/service/ads/application/random.go
package application

import "math/rand"

func randFloat() float64 {
	return rand.Float64()
}
