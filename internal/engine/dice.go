package engine

import (
	"math/rand"
	"time"
)

// Roller produces one damage die result in [1, MaxRoll].
type Roller func() int

// NewRoller returns a Roller backed by its own rand source. Each actor owns
// one, so rolls never race.
func NewRoller() Roller {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() int { return 1 + r.Intn(MaxRoll) }
}
