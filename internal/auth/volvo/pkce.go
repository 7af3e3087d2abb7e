// Package volvo provides OAuth2 authentication functionality for the Volvo
// ID identity provider. It implements the authorization-code flow with PKCE
// (Proof Key for Code Exchange), including token exchange, refresh and
// persistent token storage.
package volvo

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCECodes holds a verifier/challenge pair for a single login attempt.
// A pair is consumed exactly once during the matching callback and must be
// discarded afterwards.
type PKCECodes struct {
	// CodeVerifier is the random secret sent at token exchange time.
	CodeVerifier string
	// CodeChallenge is the S256 challenge sent at authorize time.
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636 for the OAuth 2.0 PKCE extension. The verifier is
// derived from 32 random bytes and the challenge is the URL-safe base64
// encoding (no padding) of the SHA-256 digest of the verifier string.
//
// Returns:
//   - *PKCECodes: A struct containing the code verifier and challenge
//   - error: An error if random generation fails, nil otherwise
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// generateCodeVerifier creates a cryptographically random URL-safe string
// from 32 random bytes.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge creates a SHA256 hash of the code verifier and
// encodes it using URL-safe base64 encoding without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

// GenerateRandomState creates a hex-encoded random state token of the given
// byte length, used as the OAuth state parameter for CSRF protection.
//
// Parameters:
//   - byteLength: Number of random bytes to encode
//
// Returns:
//   - string: The hex-encoded state token
//   - error: An error if random generation fails
func GenerateRandomState(byteLength int) (string, error) {
	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
