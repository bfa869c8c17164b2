package auth

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Socket-ids are two 16-digit decimal strings joined by a dot, e.g.
// "0123456789012345.9876543210987654". Uniqueness is probabilistic
// (32 uniform digits, ~10^32 space); no dedupe is attempted.

var (
	socketIDMu  sync.Mutex
	socketIDRNG = newSeededRNG()
)

func newSeededRNG() *rand.Rand {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// Fall back to a time-free but still distinct seed source; ChaCha8
		// requires 32 bytes regardless.
		binary.LittleEndian.PutUint64(seed[:8], rand.Uint64())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// GenerateSocketID returns a fresh "<16 digits>.<16 digits>" socket-id
// from the process-local cryptographically seeded generator.
func GenerateSocketID() string {
	buf := make([]byte, 0, 33)

	socketIDMu.Lock()
	for i := 0; i < 32; i++ {
		if i == 16 {
			buf = append(buf, '.')
		}
		buf = append(buf, byte('0'+socketIDRNG.IntN(10)))
	}
	socketIDMu.Unlock()

	return string(buf)
}
