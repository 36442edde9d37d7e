package gateway

import (
	"golang.org/x/crypto/bcrypt"

	"observatory/config"
)

// HashSecret generates the bcrypt hash stored for a bridge secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// checkSecret verifies a secret against a bcrypt hash.
func checkSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ConfigVerifier admits the bridges listed in cfg.Bridges. The list is read
// on every attempt so credentials added at runtime take effect immediately.
func ConfigVerifier(cfg *config.Config) Verifier {
	return VerifierFunc(func(name, secret string) bool {
		cfg.Lock()
		cred := cfg.FindBridge(name)
		var hash string
		if cred != nil {
			hash = cred.SecretHash
		}
		cfg.Unlock()
		return hash != "" && checkSecret(secret, hash)
	})
}
