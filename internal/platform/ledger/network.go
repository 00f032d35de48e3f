package ledger

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// NetworkConfig locates the gateway peer and the registry chaincode.
type NetworkConfig struct {
	Endpoint        string
	GatewayPeer     string
	TLSCertPath     string
	Channel         string
	Chaincode       string
	EvaluateTimeout time.Duration
	CommitTimeout   time.Duration
}

// Network owns the gRPC connection to the gateway peer and one client
// gateway per signing identity, all sharing that connection.
type Network struct {
	cfg     NetworkConfig
	conn    *grpc.ClientConn
	keyring Keyring

	mu       sync.Mutex
	gateways map[string]*client.Gateway
}

// Dial opens the shared gRPC connection. Gateways are created lazily per
// identity on first use.
func Dial(cfg NetworkConfig, keyring Keyring) (*Network, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("ledger: peer endpoint is required")
	}

	var creds credentials.TransportCredentials
	if cfg.TLSCertPath != "" {
		pemBytes, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("read tls certificate: %w", err)
		}
		cert, err := identity.CertificateFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse tls certificate: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(cert)
		creds = credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.Dial(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	return &Network{
		cfg:      cfg,
		conn:     conn,
		keyring:  keyring,
		gateways: make(map[string]*client.Gateway),
	}, nil
}

func (n *Network) gateway(s Signer) (*client.Gateway, error) {
	id, err := n.keyring.Resolve(s)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if gw, ok := n.gateways[id.Wallet]; ok {
		return gw, nil
	}
	gw, err := client.Connect(
		id.ID,
		client.WithSign(id.Sign),
		client.WithClientConnection(n.conn),
		client.WithEvaluateTimeout(n.cfg.EvaluateTimeout),
		client.WithEndorseTimeout(3*n.cfg.EvaluateTimeout),
		client.WithSubmitTimeout(n.cfg.EvaluateTimeout),
		client.WithCommitStatusTimeout(n.cfg.CommitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect gateway for %s: %w", s, err)
	}
	n.gateways[id.Wallet] = gw
	return gw, nil
}

// Invoker returns a contract handle that signs as s.
func (n *Network) Invoker(s Signer) (Invoker, error) {
	gw, err := n.gateway(s)
	if err != nil {
		return nil, err
	}
	return &contractInvoker{contract: gw.GetNetwork(n.cfg.Channel).GetContract(n.cfg.Chaincode)}, nil
}

// ChaincodeEvents streams registry events. A nil checkpoint starts at the
// next committed block; otherwise delivery resumes after the checkpointed
// transaction.
func (n *Network) ChaincodeEvents(ctx context.Context, after *Checkpoint) (<-chan Event, error) {
	gw, err := n.gateway(Operator())
	if err != nil {
		return nil, err
	}

	var opts []client.ChaincodeEventsOption
	if after != nil {
		opts = append(opts, client.WithCheckpoint(after))
	}
	raw, err := gw.GetNetwork(n.cfg.Channel).ChaincodeEvents(ctx, n.cfg.Chaincode, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe chaincode events: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for ev := range raw {
			select {
			case out <- Event{Name: ev.EventName, BlockNumber: ev.BlockNumber, TxID: ev.TransactionID, Payload: ev.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ping reports an error when the peer connection has failed or shut down.
func (n *Network) Ping(ctx context.Context) error {
	n.conn.Connect()
	switch state := n.conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("ledger peer connection %s", state)
	}
	return ctx.Err()
}

func (n *Network) Close() error {
	n.mu.Lock()
	for wallet, gw := range n.gateways {
		gw.Close()
		delete(n.gateways, wallet)
	}
	n.mu.Unlock()
	return n.conn.Close()
}

type contractInvoker struct {
	contract *client.Contract
}

func (c *contractInvoker) Submit(ctx context.Context, fn string, args ...string) ([]byte, error) {
	return c.contract.SubmitWithContext(ctx, fn, client.WithArguments(args...))
}

func (c *contractInvoker) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	return c.contract.EvaluateWithContext(ctx, fn, client.WithArguments(args...))
}
