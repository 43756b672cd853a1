package encoder

// zValue is the base value of a single 'z'.
const zValue = 26

// Segment describes one parsed unit of input and the integer it produced.
// Start and End are half-open code point offsets that cover the counter and
// every value consumed by the segment.
type Segment struct {
	Start int
	End   int
	Count int
	Sum   int
}

// Value returns the alphabetic position of r: 1 for 'a' or 'A' through 26 for
// 'z' or 'Z'. Any other code point has value 0.
func Value(r rune) int {
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
	}
	if r >= 'a' && r <= 'z' {
		return int(r-'a') + 1
	}
	return 0
}

func isZ(r rune) bool {
	return r == 'z' || r == 'Z'
}

// ResolveZChain resolves the run of 'z' starting at p together with the one
// character that follows the run, if any. It returns the combined value and
// the offset of the first character not consumed.
//
// A run of k 'z' that reaches the end of in resolves to 26*k and consumes k
// characters. Otherwise the trailing character's value is added and k+1
// characters are consumed. The caller must ensure in[p] is 'z' or 'Z'.
func ResolveZChain(in []rune, p int) (value, next int) {
	q := p
	for q < len(in) && isZ(in[q]) {
		value += zValue
		q++
	}
	if q == len(in) {
		return value, q
	}
	return value + Value(in[q]), q + 1
}

// resolve returns the value starting at i and the offset after it.
func resolve(in []rune, i int) (int, int) {
	if isZ(in[i]) {
		return ResolveZChain(in, i)
	}
	return Value(in[i]), i + 1
}

// Segments parses input and returns every segment in order. The segments
// tile the decoded input exactly: the first starts at 0, each one starts
// where the previous ended, and the last ends at the input's length.
func Segments(input string) []Segment {
	in := []rune(input)
	segs := make([]Segment, 0, len(in)/2+1)

	for i := 0; i < len(in); {
		seg := Segment{Start: i}
		seg.Count, i = resolve(in, i)

		// Zero-count counters emit 0 without consuming values.
		for remaining := seg.Count; remaining > 0 && i < len(in); remaining-- {
			var v int
			v, i = resolve(in, i)
			seg.Sum += v
		}

		seg.End = i
		segs = append(segs, seg)
	}
	return segs
}

// Encode returns the sum of every segment of input, in parse order. The
// empty input yields an empty, non-nil slice.
func Encode(input string) []int {
	segs := Segments(input)
	out := make([]int, len(segs))
	for i, s := range segs {
		out[i] = s.Sum
	}
	return out
}
