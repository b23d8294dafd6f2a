package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// confusionFreeAlphabet excludes 0/O, I/l/1 and every uppercase letter so a
// generated suffix is safe to read aloud, type, or paste into a URL without
// ambiguity (spec §4.6, testable property 2).
const confusionFreeAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"

// GenerateSuffix returns a 6-character identifier suffix drawn from
// confusionFreeAlphabet using a CSPRNG. It never returns an error to
// callers; a failure to read the system CSPRNG is treated as fatal because
// nothing downstream can proceed without unpredictable identity material.
func GenerateSuffix() string {
	const length = 6
	indices := make([]byte, length)
	if _, err := rand.Read(indices); err != nil {
		panic(fmt.Sprintf("util: failed to read random suffix bytes: %v", err))
	}

	out := make([]byte, length)
	for i, b := range indices {
		out[i] = confusionFreeAlphabet[int(b)%len(confusionFreeAlphabet)]
	}
	return string(out)
}

// GenerateServiceToken returns 32 CSPRNG bytes encoded as URL-safe base64
// (unpadded), used as the agent's bearer service token (spec §4.6).
func GenerateServiceToken() (string, error) {
	return randomBase64(32)
}

// GenerateAdminPassword returns 24 CSPRNG bytes encoded as URL-safe base64
// (unpadded), used as the agent's initial admin password (spec §4.6).
func GenerateAdminPassword() (string, error) {
	return randomBase64(24)
}

func randomBase64(numBytes int) (string, error) {
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("util: failed to read %d random bytes: %w", numBytes, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
