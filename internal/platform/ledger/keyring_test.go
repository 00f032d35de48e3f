package ledger

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIdentity generates a self-signed P-256 certificate and key under dir.
func writeIdentity(t *testing.T, dir, cn string) *x509.Certificate {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Org1"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cert.pem"),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))
	return cert
}

func TestWalletID_Format(t *testing.T) {
	cert := writeIdentity(t, t.TempDir(), "doctor1")
	raw, err := base64.StdEncoding.DecodeString(WalletID(cert))
	require.NoError(t, err)
	assert.Equal(t, "x509::CN=doctor1,O=Org1::CN=doctor1,O=Org1", string(raw))
}

func TestDirKeyring_Resolve(t *testing.T) {
	root := t.TempDir()
	writeIdentity(t, filepath.Join(root, "operator"), "operator")
	doctorCert := writeIdentity(t, filepath.Join(root, "wallets", "doctor1"), "doctor1")
	// Not an identity directory; must be skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "wallets", "empty"), 0o755))

	k, err := LoadDirKeyring("Org1MSP",
		filepath.Join(root, "operator", "cert.pem"),
		filepath.Join(root, "operator", "key.pem"),
		filepath.Join(root, "wallets"))
	require.NoError(t, err)
	assert.Equal(t, 1, k.Len())

	op, err := k.Resolve(Operator())
	require.NoError(t, err)
	assert.Equal(t, k.OperatorWallet(), op.Wallet)
	assert.Equal(t, "Org1MSP", op.ID.MspID())

	doctorWallet := WalletID(doctorCert)
	id, err := k.Resolve(Doctor(doctorWallet))
	require.NoError(t, err)
	assert.Equal(t, doctorWallet, id.Wallet)
	assert.NotNil(t, id.Sign)

	_, err = k.Resolve(Patient("unknown-wallet"))
	assert.ErrorIs(t, err, ErrSignerDeclined)

	_, err = k.Resolve(Patient(""))
	assert.ErrorIs(t, err, ErrSignerDeclined)
}

func TestDirKeyring_ReloadPicksUpNewWallets(t *testing.T) {
	root := t.TempDir()
	writeIdentity(t, filepath.Join(root, "operator"), "operator")

	k, err := LoadDirKeyring("Org1MSP",
		filepath.Join(root, "operator", "cert.pem"),
		filepath.Join(root, "operator", "key.pem"),
		filepath.Join(root, "wallets"))
	require.NoError(t, err, "missing wallet dir must not fail")
	assert.Equal(t, 0, k.Len())

	cert := writeIdentity(t, filepath.Join(root, "wallets", "patient1"), "patient1")
	require.NoError(t, k.Reload())

	_, err = k.Resolve(Patient(WalletID(cert)))
	assert.NoError(t, err)
}

func TestLoadIdentity_MissingFiles(t *testing.T) {
	_, err := LoadIdentity("Org1MSP", "/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}
