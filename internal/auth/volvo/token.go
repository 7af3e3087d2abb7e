package volvo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// TokenStorage stores the OAuth2 token set issued by Volvo ID. It is the
// single source of truth persisted across restarts; an exchange or refresh
// fully replaces the stored set, never parts of it.
type TokenStorage struct {
	// AccessToken is the OAuth2 access token used for authenticating API requests.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens when the current one expires.
	// Volvo ID rotates it on every refresh.
	RefreshToken string `json:"refresh_token"`

	// TokenType is the token type reported by the provider, normally "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds as issued.
	ExpiresIn int `json:"expires_in"`

	// LastRefresh is the RFC3339 timestamp of the last successful exchange or refresh.
	LastRefresh string `json:"last_refresh,omitempty"`
}

// SaveTokenToFile serializes the token storage to a JSON file. The file is
// written to a temporary sibling first and renamed into place so readers
// never observe a partially written token set.
//
// Parameters:
//   - authFilePath: The full path where the token file should be saved
//
// Returns:
//   - error: An error if the operation fails, nil otherwise
func (ts *TokenStorage) SaveTokenToFile(authFilePath string) error {
	log.Debugf("saving credentials to %s", authFilePath)

	if err := os.MkdirAll(filepath.Dir(authFilePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token set: %w", err)
	}

	tmpPath := authFilePath + ".tmp"
	if err = os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err = os.Rename(tmpPath, authFilePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// LoadTokenFromFile reads a previously persisted token set.
//
// Parameters:
//   - authFilePath: The full path of the token file
//
// Returns:
//   - *TokenStorage: The loaded token set, or nil when the file does not exist
//   - error: An error if the file exists but cannot be read or parsed
func LoadTokenFromFile(authFilePath string) (*TokenStorage, error) {
	data, err := os.ReadFile(authFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var ts TokenStorage
	if err = json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &ts, nil
}
