package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.RestrictAccess)
	assert.Equal(t, 5*time.Minute, cfg.PowerAuth.ActivationValidity)
	assert.Equal(t, uint32(5), cfg.PowerAuth.SignatureMaxFailedAttempts)
	assert.Equal(t, 20, cfg.PowerAuth.SignatureValidationLookahead)
	assert.Equal(t, string(crypto.EncryptionModeNone), cfg.PowerAuth.ServerPrivateKeyEncryption)
	assert.Equal(t, time.Minute, cfg.PowerAuth.ExpirationSweepInterval)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trustd.yaml")
	content := `
server:
  port: 9000
  restrict_access: true
powerauth:
  signature_validation_lookahead: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.RestrictAccess)
	assert.Equal(t, 5, cfg.PowerAuth.SignatureValidationLookahead)
	// untouched defaults survive
	assert.Equal(t, uint32(5), cfg.PowerAuth.SignatureMaxFailedAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRUSTD_SERVER_PORT", "7001")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
}

func TestValidateAESHMACRequiresKey(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.PowerAuth.ServerPrivateKeyEncryption = string(crypto.EncryptionModeAESHMAC)
	require.Error(t, cfg.Validate())

	cfg.PowerAuth.MasterDBEncryptionKey = "not-base64!!!"
	require.Error(t, cfg.Validate())

	cfg.PowerAuth.MasterDBEncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 16))
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
