package registry

import (
	"fmt"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// aeadOpener narrows *cipher.Cipher to the one method token accessors
// need, so tests can substitute a fake without pulling in chacha20poly1305.
type aeadOpener interface {
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
}

type aeadSealer interface {
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
}

// SetServiceToken encrypts plaintext with c, binding it to key via
// additional authenticated data, and stores it on the agent at key.
func (r *Registry) SetServiceToken(key models.AgentKey, c aeadSealer, plaintext []byte) error {
	return r.Mutate(key, func(a *models.Agent) error {
		ciphertext, err := c.Encrypt(plaintext, []byte(key.String()))
		if err != nil {
			return fmt.Errorf("registry: encrypt service token for %q: %w", key.String(), err)
		}
		a.EncryptedServiceToken = ciphertext
		return nil
	})
}

// ServiceToken decrypts and returns the plaintext service token for key.
func (r *Registry) ServiceToken(key models.AgentKey, c aeadOpener) ([]byte, error) {
	agent, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.Decrypt(agent.EncryptedServiceToken, []byte(key.String()))
	if err != nil {
		return nil, fmt.Errorf("registry: decrypt service token for %q: %w", key.String(), err)
	}
	return plaintext, nil
}

// SetAdminPassword encrypts plaintext with c and stores it on the agent at key.
func (r *Registry) SetAdminPassword(key models.AgentKey, c aeadSealer, plaintext []byte) error {
	return r.Mutate(key, func(a *models.Agent) error {
		ciphertext, err := c.Encrypt(plaintext, []byte(key.String()))
		if err != nil {
			return fmt.Errorf("registry: encrypt admin password for %q: %w", key.String(), err)
		}
		a.EncryptedAdminPassword = ciphertext
		return nil
	})
}

// AdminPassword decrypts and returns the plaintext admin password for key.
func (r *Registry) AdminPassword(key models.AgentKey, c aeadOpener) ([]byte, error) {
	agent, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.Decrypt(agent.EncryptedAdminPassword, []byte(key.String()))
	if err != nil {
		return nil, fmt.Errorf("registry: decrypt admin password for %q: %w", key.String(), err)
	}
	return plaintext, nil
}
