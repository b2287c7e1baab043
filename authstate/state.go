// Package authstate encodes and decodes the opaque state blob that
// correlates a redirect to the identity provider with the request that
// initiated it. The blob is base64url-encoded JSON and carries no
// cryptographic integrity of its own: tampering is caught by the caller
// comparing the nonce against the session-bound nonce, not by the codec.
package authstate

import (
	"encoding/base64"
	"encoding/json"

	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
)

// Stage identifies which leg of the redirect state machine a callback
// belongs to.
type Stage string

const (
	StageSignIn       Stage = "sign_in"
	StageAcquireToken Stage = "acquire_token"
)

// State is the correlator for one redirect round trip. It is created per
// redirect-initiating request and consumed exactly once on the matching
// callback.
type State struct {
	Stage Stage  `json:"stage"`
	Path  string `json:"path"`
	Nonce string `json:"nonce"`
}

// Encode serialises the state into a transport-safe opaque string that can
// be embedded in a URL query parameter.
func Encode(s State) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", apperrors.Wrapf(err, "[authstate.Encode] marshal state")
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode reverses Encode. It returns ErrMalformedState if the input is not
// valid base64 or does not contain valid JSON.
func Decode(raw string) (State, error) {
	payload, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// Tolerate padded input from providers that re-encode the blob.
		payload, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return State{}, apperrors.Wrapf(apperrors.ErrMalformedState, "[authstate.Decode] base64 decode")
		}
	}

	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return State{}, apperrors.Wrapf(apperrors.ErrMalformedState, "[authstate.Decode] unmarshal state")
	}
	return s, nil
}
