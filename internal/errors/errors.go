package errors

import (
	"errors"
	"fmt"
)

// Common error types for the web-app authentication layer
var (
	// Configuration errors (fatal at startup, never retried)
	ErrConfiguration       = errors.New("invalid configuration")
	ErrAmbiguousAccessRule = errors.New("access rule declares both roles and groups")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")

	// State correlation errors (always an unauthorized redirect, never a crash)
	ErrStateNotFound        = errors.New("state parameter not found")
	ErrMalformedState       = errors.New("malformed state parameter")
	ErrNonceMismatch        = errors.New("nonce mismatch")
	ErrCannotDetermineStage = errors.New("cannot determine application stage")

	// Token acquisition errors
	ErrAuthCodeNotFound    = errors.New("authorization code not found")
	ErrAuthCodeNotObtained = errors.New("authorization code url could not be obtained")
	ErrInteractionRequired = errors.New("user interaction required")
	ErrTokenAcquisition    = errors.New("token acquisition failed")

	// Validation errors
	ErrInvalidIDToken     = errors.New("invalid id token")
	ErrInvalidAccessToken = errors.New("invalid access token")

	// Access denial errors (always fail-closed)
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrUserHasNoRole    = errors.New("user has no roles claim")
	ErrUserHasNoGroup   = errors.New("user has no groups claim")
	ErrUserNotInRole    = errors.New("user not in required role")
	ErrUserNotInGroup   = errors.New("user not in required group")

	// Directory lookup errors (overage resolution, fail-closed)
	ErrDirectoryLookup = errors.New("directory lookup failed")

	// General errors
	ErrResourceNotFound = errors.New("remote resource not found")
	ErrInternal         = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
