package badge

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"
)

// Barcode strip dimensions in template units.
const (
	BarcodeWidth  = 360
	BarcodeHeight = 80
)

// BarcodeLabel is the seed label for a mission badge: "M<n>-<RFC3339>".
func BarcodeLabel(mission int, ts time.Time) string {
	return fmt.Sprintf("M%d-%s", mission, ts.UTC().Format(time.RFC3339))
}

// Barcode returns <rect> markup for a pseudo-random bar pattern. The PRNG
// is seeded with the FNV-1a hash of label, so equal labels always give
// byte-identical markup.
func Barcode(label string) string {
	h := fnv.New32a()
	h.Write([]byte(label))
	seed := uint64(h.Sum32())
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var b strings.Builder
	for x := 0; x < BarcodeWidth; {
		w := 2 + rng.IntN(7)
		if x+w > BarcodeWidth {
			w = BarcodeWidth - x
		}
		fmt.Fprintf(&b, `<rect x="%d" y="0" width="%d" height="%d"/>`, x, w, BarcodeHeight)
		x += w + 2 + rng.IntN(6)
	}
	return b.String()
}
