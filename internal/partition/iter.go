package partition

import (
	"iter"
	"math/big"
)

// Numbers yields every value of c zero-padded to width, without
// materializing the chunk.
func (c RangeChunk) Numbers(width int) iter.Seq[string] {
	return func(yield func(string) bool) {
		one := big.NewInt(1)
		for n := new(big.Int).Set(c.Start); n.Cmp(c.End) <= 0; n.Add(n, one) {
			if !yield(FormatNumeric(n, width)) {
				return
			}
		}
	}
}
