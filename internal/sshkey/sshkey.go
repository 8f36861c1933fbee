// Package sshkey generates and cleans up the per-build SSH keypair used by
// ansible to reach the provisioned nodes.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// Pair points at a private/public key pair on disk.
type Pair struct {
	PrivateKeyPath string
	PublicKeyPath  string
}

// Generate writes a new ed25519 keypair under dir with the given name.
func Generate(dir, name string) (*Pair, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	privPath := filepath.Join(dir, name)
	if err := os.WriteFile(privPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("convert public key: %w", err)
	}

	pubPath := privPath + ".pub"
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}

	resources.LogLevel("info", "Generated SSH keypair at %s", privPath)

	return &Pair{PrivateKeyPath: privPath, PublicKeyPath: pubPath}, nil
}

// Cleanup removes both halves of the keypair. Missing files are not an error.
func (p *Pair) Cleanup() error {
	for _, path := range []string{p.PrivateKeyPath, p.PublicKeyPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	return nil
}
