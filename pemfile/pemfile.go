// Package pemfile manages the SSH host key of a server.
package pemfile

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/zond/usurper"

	gossh "golang.org/x/crypto/ssh"
)

const keyBits = 4096

type KeyParams struct {
	KeyPath       string
	SSHPubKeyPath string
	// Bits defaults to 4096.
	Bits int
}

// Generate writes a new RSA private key and its authorized_keys line.
func (k KeyParams) Generate() error {
	bits := k.Bits
	if bits == 0 {
		bits = keyBits
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return usurper.WithStack(err)
	}
	if err := os.WriteFile(k.KeyPath, pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		}),
		0600,
	); err != nil {
		return usurper.WithStack(err)
	}

	pub, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return usurper.WithStack(err)
	}
	if err := os.WriteFile(k.SSHPubKeyPath, gossh.MarshalAuthorizedKey(pub), 0600); err != nil {
		return usurper.WithStack(err)
	}
	return nil
}

// Load returns the PEM encoded private key, generating the pair first if
// it doesn't exist. generated reports whether that happened.
func (k KeyParams) Load() (pemBytes []byte, signer gossh.Signer, generated bool, err error) {
	if _, err = os.Stat(k.KeyPath); os.IsNotExist(err) {
		if err = k.Generate(); err != nil {
			return nil, nil, false, err
		}
		generated = true
	} else if err != nil {
		return nil, nil, false, usurper.WithStack(err)
	}
	if pemBytes, err = os.ReadFile(k.KeyPath); err != nil {
		return nil, nil, false, usurper.WithStack(err)
	}
	if signer, err = gossh.ParsePrivateKey(pemBytes); err != nil {
		return nil, nil, false, usurper.WithStack(err)
	}
	return pemBytes, signer, generated, nil
}
