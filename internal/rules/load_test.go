package rules

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scanwarden/internal/artifact"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `rules:
  - id: hack
    kind: identifier-substring
    value: hack
    severity: high
  - kind: location-glob
    value: "/tmp/*"
allow:
  identifiers: [com.safe.hacker]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParse(t *testing.T) {
	rs, err := Parse([]byte(sampleRules))
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, "/tmp/*", rs.Rules()[1].ID())

	v := rs.Evaluate(artifact.Record{ID: "com.safe.hacker"})
	assert.False(t, v.Suspicious())
	assert.Equal(t, "allow.identifiers", v.AllowedBy)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "rules:\n  - kind: identifier-substring\n    value: x\n    weight: 3\n"},
		{"no rules", "rules: []\n"},
		{"not yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestLoader_EmptyPathIsBuiltin(t *testing.T) {
	rs, err := Loader{}.Load()
	require.NoError(t, err)
	assert.Equal(t, "builtin", rs.Origin())
}

func TestLoader_File(t *testing.T) {
	p := writeFile(t, t.TempDir(), "rules.yaml", sampleRules)
	rs, err := Loader{Path: p}.Load()
	require.NoError(t, err)
	assert.Equal(t, p, rs.Origin())
}

type testSigner struct {
	entity  *openpgp.Entity
	keyring []byte
}

func newTestSigner(t *testing.T) testSigner {
	t.Helper()
	e, err := openpgp.NewEntity("scanwarden test", "", "test@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.Serialize(w))
	require.NoError(t, w.Close())
	return testSigner{entity: e, keyring: buf.Bytes()}
}

func (s testSigner) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), nil))
	return buf.Bytes()
}

func TestLoader_Signature(t *testing.T) {
	signer := newTestSigner(t)
	v, err := NewVerifier(signer.keyring)
	require.NoError(t, err)
	assert.Equal(t, 1, v.KeyCount())

	dir := t.TempDir()
	p := writeFile(t, dir, "rules.yaml", sampleRules)

	t.Run("missing signature", func(t *testing.T) {
		_, err := Loader{Path: p, Verifier: v}.Load()
		require.True(t, errors.Is(err, ErrUntrustedRules), "got %v", err)
	})

	writeFile(t, dir, "rules.yaml.asc", string(signer.sign(t, []byte(sampleRules))))

	t.Run("valid signature", func(t *testing.T) {
		rs, err := Loader{Path: p, Verifier: v}.Load()
		require.NoError(t, err)
		assert.Equal(t, 2, rs.Len())
	})

	t.Run("tampered file", func(t *testing.T) {
		writeFile(t, dir, "rules.yaml", sampleRules+"  - kind: identifier-substring\n    value: zzz\n")
		_, err := Loader{Path: p, Verifier: v}.Load()
		require.True(t, errors.Is(err, ErrUntrustedRules), "got %v", err)
	})
}

func TestNewVerifier_Garbage(t *testing.T) {
	_, err := NewVerifier([]byte("not a key"))
	require.Error(t, err)
}

func TestStore_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "rules.yaml", sampleRules)

	s, err := NewStore(Loader{Path: p}, zerolog.Nop())
	require.NoError(t, err)
	before := s.Current()
	require.Equal(t, 2, before.Len())

	writeFile(t, dir, "rules.yaml", "rules: [\n")
	rs, err := s.Reload()
	require.Error(t, err)
	assert.Same(t, before, rs)
	assert.Same(t, before, s.Current())

	writeFile(t, dir, "rules.yaml", "rules:\n  - kind: identifier-substring\n    value: cheat\n")
	rs, err = s.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Same(t, rs, s.Current())
	assert.Equal(t, 2, before.Len(), "pinned set must not change")
}

func TestStore_StaticReload(t *testing.T) {
	rs := Default()
	s := NewStaticStore(rs)
	got, err := s.Reload()
	require.NoError(t, err)
	assert.Same(t, rs, got)
}

func TestStore_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "rules.yaml", sampleRules)

	s, err := NewStore(Loader{Path: p}, zerolog.Nop())
	require.NoError(t, err)
	s.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	writeFile(t, dir, "rules.yaml", "rules:\n  - kind: identifier-substring\n    value: trojan\n")

	require.Eventually(t, func() bool {
		return s.Current().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
