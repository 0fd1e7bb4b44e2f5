package ledger

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// MaxSafeReference is the largest integer a float64 represents exactly (2^53 - 1).
// Gateway SDKs often carry the order code as a JSON number.
const MaxSafeReference int64 = 1<<53 - 1

const referenceSuffixRange = 100000

// ReferenceGenerator mints gateway order codes. Uniqueness is best effort;
// the unique index on order_code is authoritative.
type ReferenceGenerator interface {
	NewReference() string
}

// TimestampReferenceGenerator builds a 15 digit code: 10 digits of unix
// seconds followed by a 5 digit random suffix.
type TimestampReferenceGenerator struct {
	now     func() time.Time
	randInt func(n int64) int64
}

// NewReferenceGenerator returns a generator backed by the wall clock
func NewReferenceGenerator() *TimestampReferenceGenerator {
	return &TimestampReferenceGenerator{
		now:     time.Now,
		randInt: rand.Int64N,
	}
}

// NewReference returns a fresh numeric order code
func (g *TimestampReferenceGenerator) NewReference() string {
	return fmt.Sprintf("%010d%05d", g.now().Unix(), g.randInt(referenceSuffixRange))
}
