// Package partition splits an identifier sequence or numeric range into
// contiguous, non-overlapping chunks for a fixed number of workers.
package partition

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrWorkers is returned when fewer than one worker is requested.
var ErrWorkers = errors.New("worker count must be at least 1")

// Chunk is the half-open index range [Start, End) of a finite sequence.
type Chunk struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len is the number of identifiers in the chunk.
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// Chunks splits [0, length) into at most workers chunks of size
// ceil(length/workers). The last chunk may be short and no chunk is empty.
func Chunks(length int64, workers int) (int64, []Chunk, error) {
	if workers < 1 {
		return 0, nil, ErrWorkers
	}
	if length < 0 {
		return 0, nil, fmt.Errorf("negative sequence length %d", length)
	}
	if length == 0 {
		return 0, nil, nil
	}
	size := (length + int64(workers) - 1) / int64(workers)
	chunks := make([]Chunk, 0, workers)
	for start := int64(0); start < length; start += size {
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   min(length, start+size),
		})
	}
	return size, chunks, nil
}

// RangeChunk is an inclusive numeric range [Start, End].
type RangeChunk struct {
	Index int      `json:"index"`
	Start *big.Int `json:"start"`
	End   *big.Int `json:"end"`
}

// Len is the number of values in the chunk.
func (c RangeChunk) Len() *big.Int {
	n := new(big.Int).Sub(c.End, c.Start)
	return n.Add(n, big.NewInt(1))
}

// Range splits the inclusive range [start, end] exactly, however wide it is.
func Range(start, end *big.Int, workers int) (*big.Int, []RangeChunk, error) {
	if workers < 1 {
		return nil, nil, ErrWorkers
	}
	if start == nil || end == nil {
		return nil, nil, errors.New("range bounds are required")
	}
	if start.Sign() < 0 {
		return nil, nil, fmt.Errorf("negative range start %s", start)
	}
	if end.Cmp(start) < 0 {
		return nil, nil, fmt.Errorf("range end %s is before start %s", end, start)
	}
	one := big.NewInt(1)
	n := big.NewInt(int64(workers))

	length := new(big.Int).Sub(end, start)
	length.Add(length, one)
	size := new(big.Int).Add(length, new(big.Int).Sub(n, one))
	size.Quo(size, n)

	chunks := make([]RangeChunk, 0, workers)
	for lo := new(big.Int).Set(start); lo.Cmp(end) <= 0; lo = new(big.Int).Add(lo, size) {
		hi := new(big.Int).Add(lo, size)
		hi.Sub(hi, one)
		if hi.Cmp(end) > 0 {
			hi.Set(end)
		}
		chunks = append(chunks, RangeChunk{Index: len(chunks), Start: lo, End: hi})
	}
	return size, chunks, nil
}

// ParseBound reads a decimal range bound.
func ParseBound(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid range bound %q", s)
	}
	return n, nil
}

// FormatNumeric zero-pads n to width digits.
func FormatNumeric(n *big.Int, width int) string {
	s := n.String()
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
