package sitedeploy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

const testRemoteDir = "/var/www/site"

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	require.NoError(t, os.WriteFile(keyPath, []byte(privateKeyPEM), 0600))

	return privateKeyPEM, keyPath
}

// generateTestHostKey returns a fresh public key to play the server's host key.
func generateTestHostKey(t *testing.T) gossh.PublicKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	publicKey, err := gossh.NewPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	return publicKey
}

// createTestFileStructure creates a directory structure with files for testing.
// Files is a map of slash-separated relative path -> content; a path ending in
// "/" creates an empty directory.
func createTestFileStructure(t testing.TB, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for relPath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relPath))
		if relPath[len(relPath)-1] == '/' {
			require.NoError(t, os.MkdirAll(fullPath, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0644))
	}
	return root
}

// newTestConfig returns a valid Config deploying localDir to testRemoteDir.
func newTestConfig(localDir string) Config {
	return Config{
		Host:          "example.com",
		User:          "deploy",
		Password:      "secret",
		HostKeyPolicy: HostKeyInsecure,
		LocalDir:      localDir,
		RemoteDir:     testRemoteDir,
	}
}

// newTestDeployer creates a Deployer whose session is backed by mfs. The
// returned hook captures everything logged.
func newTestDeployer(t testing.TB, mfs *memFS, config Config) (*Deployer, *logtest.Hook) {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	d, err := NewDeployer(config,
		WithLogger(logger),
		WithDialer(func(context.Context, Config, logrus.FieldLogger) (*Client, error) {
			return NewClientWithFS(mfs, nil), nil
		}),
	)
	require.NoError(t, err)
	return d, hook
}

// connectedDeployer is newTestDeployer followed by Connect.
func connectedDeployer(t testing.TB, mfs *memFS, config Config) (*Deployer, *logtest.Hook) {
	t.Helper()

	d, hook := newTestDeployer(t, mfs, config)
	require.NoError(t, d.Connect(context.Background()))
	return d, hook
}

// warnings returns the messages logged at warning level.
func warnings(hook *logtest.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}
