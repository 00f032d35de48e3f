package ledger

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperledger/fabric-gateway/pkg/identity"
)

// Identity is a resolved signer: the X.509 identity presented to the peer and
// the function that signs proposal digests.
type Identity struct {
	Wallet string
	ID     *identity.X509Identity
	Sign   identity.Sign
}

// Keyring maps signers to key material.
type Keyring interface {
	Resolve(s Signer) (*Identity, error)
	OperatorWallet() string
}

// WalletID derives the wallet address of a certificate. It is the same value
// chaincode sees from the client identity's GetID.
func WalletID(cert *x509.Certificate) string {
	id := "x509::" + cert.Subject.String() + "::" + cert.Issuer.String()
	return base64.StdEncoding.EncodeToString([]byte(id))
}

// LoadIdentity reads a PEM certificate and private key for mspID.
func LoadIdentity(mspID, certPath, keyPath string) (*Identity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", certPath, err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", certPath, err)
	}
	id, err := identity.NewX509Identity(mspID, cert)
	if err != nil {
		return nil, fmt.Errorf("build identity: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	return &Identity{Wallet: WalletID(cert), ID: id, Sign: sign}, nil
}

// DirKeyring holds the operator identity plus one identity per subdirectory
// of a wallet directory, each containing cert.pem and key.pem.
type DirKeyring struct {
	mspID    string
	dir      string
	operator *Identity

	mu      sync.RWMutex
	wallets map[string]*Identity
}

func LoadDirKeyring(mspID, operatorCert, operatorKey, walletDir string) (*DirKeyring, error) {
	op, err := LoadIdentity(mspID, operatorCert, operatorKey)
	if err != nil {
		return nil, fmt.Errorf("operator identity: %w", err)
	}
	k := &DirKeyring{mspID: mspID, dir: walletDir, operator: op, wallets: map[string]*Identity{}}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// Reload rescans the wallet directory. A missing directory is an empty
// keyring; unreadable entries are skipped.
func (k *DirKeyring) Reload() error {
	wallets := map[string]*Identity{}
	if k.dir != "" {
		entries, err := os.ReadDir(k.dir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read wallet dir %s: %w", k.dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			base := filepath.Join(k.dir, e.Name())
			id, err := LoadIdentity(k.mspID, filepath.Join(base, "cert.pem"), filepath.Join(base, "key.pem"))
			if err != nil {
				continue
			}
			wallets[id.Wallet] = id
		}
	}

	k.mu.Lock()
	k.wallets = wallets
	k.mu.Unlock()
	return nil
}

func (k *DirKeyring) OperatorWallet() string { return k.operator.Wallet }

// Len is the number of non-operator wallets held.
func (k *DirKeyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.wallets)
}

func (k *DirKeyring) Resolve(s Signer) (*Identity, error) {
	if s.Role == RoleOperator {
		return k.operator, nil
	}
	if s.Wallet == "" {
		return nil, fmt.Errorf("%w: %s has no connected wallet", ErrSignerDeclined, s.Role)
	}

	k.mu.RLock()
	id, ok := k.wallets[s.Wallet]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no key material for %s", ErrSignerDeclined, s)
	}
	return id, nil
}
