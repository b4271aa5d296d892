package password

import (
	"fmt"
	"runtime"
)

// Algorithm tags the scheme that produced a stored digest.
type Algorithm string

const (
	Argon2id Algorithm = "argon2id"
	Bcrypt   Algorithm = "bcrypt"
)

// Known reports whether a is a supported algorithm tag.
func (a Algorithm) Known() bool {
	return a == Argon2id || a == Bcrypt
}

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config selects the primary algorithm and its cost parameters.
type Config struct {
	Algorithm  Algorithm
	Argon2id   Argon2idParams
	BcryptCost int
}

// DefaultConfig returns a baseline suitable for interactive logins.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}
	return Config{
		Algorithm: Argon2id,
		Argon2id: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: 12,
	}
}

// Validate checks that the configuration can produce usable digests.
func (c Config) Validate() error {
	if !c.Algorithm.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Algorithm)
	}
	p := c.Argon2id
	switch {
	case p.MemoryKiB < 1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: argon2id memory %d KiB out of range [1024..1048576]", ErrInvalidConfig, p.MemoryKiB)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: argon2id iterations %d out of range [1..20]", ErrInvalidConfig, p.Iterations)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: argon2id parallelism must be positive", ErrInvalidConfig)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: argon2id salt length %d out of range [8..64]", ErrInvalidConfig, p.SaltLength)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: argon2id key length %d out of range [16..64]", ErrInvalidConfig, p.KeyLength)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("%w: bcrypt cost %d out of range [4..31]", ErrInvalidConfig, c.BcryptCost)
	}
	return nil
}
