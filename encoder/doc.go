// Package encoder converts a character sequence into a sequence of segment
// sums.
//
// The input is read left to right in segments. The first character of a
// segment (the counter) yields a count from its alphabetic position
// (a/A=1 … z/Z=26, everything else 0). The segment then sums the values of
// the next count values. A counter of value 0 produces a 0 on its own.
//
// The letter 'z' absorbs the character that follows it: a run of k
// consecutive 'z' followed by one other character resolves to a single
// value of 26*k plus that character's value, and counts as one value toward
// the enclosing segment. The same rule applies when 'z' is the counter.
//
//	Encode("abbcc")        // [2 6]
//	Encode("dz_a_aazzaaa") // [28 53 1]
//
// All functions are pure and safe for concurrent use.
package encoder
