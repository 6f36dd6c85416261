package rules

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ErrUntrustedRules is returned when a rules file fails signature checks.
var ErrUntrustedRules = errors.New("untrusted rules file")

// Verifier checks detached OpenPGP signatures against a fixed keyring.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier reads an armored public keyring.
func NewVerifier(armoredKeyring []byte) (*Verifier, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armoredKeyring))
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	if len(entities) == 0 {
		return nil, errors.New("keyring contains no keys")
	}
	return &Verifier{keyring: entities}, nil
}

// NewVerifierFromFile is NewVerifier over the contents of path.
func NewVerifierFromFile(path string) (*Verifier, error) {
	//nolint:gosec // G304: keyring path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	return NewVerifier(data)
}

// Verify checks an armored detached signature over data.
func (v *Verifier) Verify(data, armoredSig []byte) error {
	if v == nil || len(v.keyring) == 0 {
		return fmt.Errorf("%w: no keys loaded", ErrUntrustedRules)
	}
	if _, err := openpgp.CheckArmoredDetachedSignature(v.keyring, bytes.NewReader(data), bytes.NewReader(armoredSig), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedRules, err)
	}
	return nil
}

func (v *Verifier) KeyCount() int {
	if v == nil {
		return 0
	}
	return len(v.keyring)
}
