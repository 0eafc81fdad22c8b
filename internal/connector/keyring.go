package connector

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyringService namespaces every credential this module stores in the OS
// keyring, so it never collides with an unrelated application's entries.
const keyringService = "artresolve"

// AuthStore resolves a remote repository's credentials from the OS
// keyring. Auth selection (which remote needs which credential, proxy
// negotiation) happens upstream; this only stores and retrieves an
// already-resolved credential.
type AuthStore struct{}

// NewAuthStore returns a keyring-backed AuthStore.
func NewAuthStore() *AuthStore { return &AuthStore{} }

// Lookup returns the stored username/password for a remote id, if any.
// The username is stored as "<remoteID>:user" and the password under
// "<remoteID>:pass", mirroring how a single keyring service namespaces
// multiple secrets per logical entity.
func (s *AuthStore) Lookup(remoteID string) (username, password string, ok bool) {
	user, err := keyring.Get(keyringService, remoteID+":user")
	if err != nil {
		return "", "", false
	}
	pass, err := keyring.Get(keyringService, remoteID+":pass")
	if err != nil {
		return "", "", false
	}
	return user, pass, true
}

// Store persists credentials for a remote id in the OS keyring.
func (s *AuthStore) Store(remoteID, username, password string) error {
	if err := keyring.Set(keyringService, remoteID+":user", username); err != nil {
		return fmt.Errorf("auth store: save username: %w", err)
	}
	if err := keyring.Set(keyringService, remoteID+":pass", password); err != nil {
		return fmt.Errorf("auth store: save password: %w", err)
	}
	return nil
}

// Forget removes any stored credentials for a remote id.
func (s *AuthStore) Forget(remoteID string) error {
	_ = keyring.Delete(keyringService, remoteID+":user")
	_ = keyring.Delete(keyringService, remoteID+":pass")
	return nil
}
