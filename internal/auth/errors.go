package auth

import "errors"

var (
	// ErrInvalidToken indicates the token is malformed, has a bad signature or the wrong type.
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token's nbf claim is in the future.
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrMissingSecret is returned when the API is configured without a signing secret.
	ErrMissingSecret = errors.New("jwt secret is not configured")
)
