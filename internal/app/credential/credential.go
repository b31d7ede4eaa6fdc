package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// ErrNoPassword means neither the configuration nor the keyring
// provided a password.
var ErrNoPassword = errors.New("no password configured")

// Opener opens a keyring for a service. Replaced in tests.
type Opener func(service string) (keyring.Keyring, error)

// OpenSystem opens the OS keyring for service.
func OpenSystem(service string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}

	return ring, nil
}

// Password returns configured when it is set, otherwise the secret stored
// for login under service.
func Password(open Opener, service, login, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if service == "" {
		return "", ErrNoPassword
	}

	ring, err := open(service)
	if err != nil {
		return "", err
	}

	item, err := ring.Get(login)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: keyring %q has no entry for %q", ErrNoPassword, service, login)
		}
		return "", fmt.Errorf("get credential %q: %w", login, err)
	}

	return string(item.Data), nil
}
