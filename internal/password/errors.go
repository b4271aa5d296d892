package password

import "errors"

var (
	ErrPasswordTooShort  = errors.New("password too short")
	ErrPasswordTooLong   = errors.New("password too long")
	ErrWeakPassword      = errors.New("weak password")
	ErrPolicyUnsatisfied = errors.New("password does not satisfy policy")
	ErrSecretTooLong     = errors.New("secret longer than the algorithm accepts")

	ErrInvalidHash      = errors.New("invalid password hash")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	ErrInvalidConfig    = errors.New("invalid hasher config")
)
