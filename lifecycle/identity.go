package lifecycle

import (
	"fmt"

	"github.com/sasta-kro/ciris-fleet-manager/cipher"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/util"
)

// generateAgentID builds "slug(name)-{6-char suffix}" (spec §4.6
// Identity & secrets). For a multi-occurrence agent the caller supplies
// its own occurrence_id and the suffix is still generated — uniqueness
// in that case comes from the (agent_id, occurrence_id, host_id)
// composite key, not from the agent_id alone.
func generateAgentID(name string) string {
	return util.Slugify(name) + "-" + util.GenerateSuffix()
}

// generatedSecrets holds the plaintext identity material created for a
// new agent, before it is encrypted for storage.
type generatedSecrets struct {
	ServiceToken  string
	AdminPassword string
}

func generateSecrets() (generatedSecrets, error) {
	token, err := util.GenerateServiceToken()
	if err != nil {
		return generatedSecrets{}, fmt.Errorf("lifecycle: generate service token: %w", err)
	}
	password, err := util.GenerateAdminPassword()
	if err != nil {
		return generatedSecrets{}, fmt.Errorf("lifecycle: generate admin password: %w", err)
	}
	return generatedSecrets{ServiceToken: token, AdminPassword: password}, nil
}

// encryptSecrets seals secrets for storage in agent's registry record,
// binding each ciphertext to key's canonical string via additionalData
// so ciphertext copied between two agents' records fails to decrypt.
func encryptSecrets(c *cipher.Cipher, key models.AgentKey, secrets generatedSecrets) (encryptedServiceToken, encryptedAdminPassword []byte, err error) {
	aad := []byte(key.String())
	encryptedServiceToken, err = c.Encrypt([]byte(secrets.ServiceToken), aad)
	if err != nil {
		return nil, nil, fmt.Errorf("lifecycle: encrypt service token: %w", err)
	}
	encryptedAdminPassword, err = c.Encrypt([]byte(secrets.AdminPassword), aad)
	if err != nil {
		return nil, nil, fmt.Errorf("lifecycle: encrypt admin password: %w", err)
	}
	return encryptedServiceToken, encryptedAdminPassword, nil
}

// hostAddress returns the network address used to reach host's agents:
// localhost for the local host (the port allocator binds to the local
// machine), the VPC IP for a remote host when configured (private
// network, preferred over the public hostname), falling back to the
// hostname otherwise.
func hostAddress(host models.Host) string {
	if host.IsLocal {
		return "localhost"
	}
	if host.VPCIP != "" {
		return host.VPCIP
	}
	return host.Hostname
}
