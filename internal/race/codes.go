package race

import "math/rand/v2"

// Room codes avoid ambiguous characters (0/O, 1/I/L) so they survive being
// read aloud.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// newRoomCode generates a code that is unique among live rooms. Collisions
// are retried; at 31^6 combinations a handful of attempts always suffices.
func newRoomCode(rng *rand.Rand, taken func(string) bool) string {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			b[i] = codeAlphabet[rng.IntN(len(codeAlphabet))]
		}
		code := string(b)
		if !taken(code) {
			return code
		}
	}
}
