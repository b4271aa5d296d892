package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Version = 19
	// bcryptMaxBytes is the input limit of bcrypt.GenerateFromPassword.
	bcryptMaxBytes = 72
)

// Digest is a stored secret hash together with the algorithm that produced it.
type Digest struct {
	Hash      string
	Algorithm Algorithm
}

// Hasher hashes and verifies secrets with the configured primary algorithm.
// It is safe for concurrent use.
type Hasher struct {
	cfg Config

	dummyOnce sync.Once
	dummy     Digest
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{cfg: cfg}, nil
}

// Primary returns the algorithm new digests are produced with.
func (h *Hasher) Primary() Algorithm { return h.cfg.Algorithm }

// Hash produces a digest of secret using the primary algorithm.
func (h *Hasher) Hash(secret string) (Digest, error) {
	if secret == "" {
		return Digest{}, errors.New("password: secret is empty")
	}
	switch h.cfg.Algorithm {
	case Argon2id:
		enc, err := hashArgon2id(secret, h.cfg.Argon2id)
		if err != nil {
			return Digest{}, err
		}
		return Digest{Hash: enc, Algorithm: Argon2id}, nil
	case Bcrypt:
		if len(secret) > bcryptMaxBytes {
			return Digest{}, fmt.Errorf("%w: bcrypt takes at most %d bytes", ErrSecretTooLong, bcryptMaxBytes)
		}
		out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cfg.BcryptCost)
		if err != nil {
			return Digest{}, fmt.Errorf("bcrypt: %w", err)
		}
		return Digest{Hash: string(out), Algorithm: Bcrypt}, nil
	default:
		return Digest{}, ErrUnknownAlgorithm
	}
}

// Verify reports whether secret matches digest produced by alg.
// A mismatch is (false, nil); malformed digests yield ErrInvalidHash.
func (h *Hasher) Verify(secret, digest string, alg Algorithm) (bool, error) {
	if digest == "" {
		return false, ErrInvalidHash
	}
	switch alg {
	case Argon2id:
		return h.verifyArgon2id(secret, digest)
	case Bcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, ErrInvalidHash
		}
	default:
		return false, ErrUnknownAlgorithm
	}
}

// NeedsRehash reports whether digest should be replaced by a fresh one:
// either its algorithm is not the primary or its cost is below the configured one.
func (h *Hasher) NeedsRehash(digest string, alg Algorithm) bool {
	if alg != h.cfg.Algorithm {
		return true
	}
	switch alg {
	case Argon2id:
		params, _, _, err := decodeArgon2id(digest)
		if err != nil {
			return true
		}
		want := h.cfg.Argon2id
		return params.MemoryKiB < want.MemoryKiB ||
			params.Iterations < want.Iterations ||
			params.Parallelism < want.Parallelism ||
			params.KeyLength < want.KeyLength
	case Bcrypt:
		cost, err := bcrypt.Cost([]byte(digest))
		if err != nil {
			return true
		}
		return cost < h.cfg.BcryptCost
	default:
		return true
	}
}

// VerifyDummy burns the same work as a real verification against a digest
// that can never match. Callers use it when the principal does not exist.
func (h *Hasher) VerifyDummy(secret string) {
	h.dummyOnce.Do(func() {
		d, err := h.Hash("dummy-secret-never-matches")
		if err == nil {
			h.dummy = d
		}
	})
	if h.dummy.Hash == "" {
		return
	}
	_, _ = h.Verify(secret, h.dummy.Hash, h.dummy.Algorithm)
}

func hashArgon2id(secret string, p Argon2idParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

func (h *Hasher) verifyArgon2id(secret, encoded string) (bool, error) {
	params, salt, expected, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	if !withinReasonableBounds(params, h.cfg.Argon2id) {
		return false, ErrInvalidHash
	}
	key := argon2.IDKey(
		[]byte(secret),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by withinReasonableBounds.
	)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// withinReasonableBounds accepts digests made with older, cheaper settings
// but refuses ones far above the configured cost.
func withinReasonableBounds(got, limits Argon2idParams) bool {
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if uint32(got.Parallelism) > uint32(limits.Parallelism)*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != string(Argon2id) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- base64 payload of a stored digest.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- base64 payload of a stored digest.
	}, salt, key, nil
}
