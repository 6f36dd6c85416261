package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_YAML(t *testing.T) {
	data := []byte(`
packages:
  - package: com.example.notes
    path: /data/app/com.example.notes/base.apk
    size: 2048
    installed_at: 1714557600000
    updated_at: "2024-05-02T10:00:00Z"
    permissions: [android.permission.CAMERA, android.permission.INTERNET]
  - package: com.android.settings
    system: true
`)
	recs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	notes := recs[0]
	assert.Equal(t, "com.example.notes", notes.ID)
	assert.Equal(t, "/data/app/com.example.notes/base.apk", notes.Location)
	assert.Equal(t, int64(2048), notes.Size)
	assert.True(t, notes.InstalledAt.Equal(time.UnixMilli(1714557600000)))
	assert.True(t, notes.ModifiedAt.Equal(time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)))
	assert.True(t, notes.HasCapability("android.permission.CAMERA"))
	assert.False(t, notes.System)

	assert.True(t, recs[1].System)
}

func TestParse_JSONList(t *testing.T) {
	data := []byte(`[
  {"package": "GoodApp", "installed_at": "2024-01-15"},
  {"package": "HackTool", "permissions": ["android.permission.READ_SMS"]}
]`)
	recs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "GoodApp", recs[0].ID)
	assert.Equal(t, 2024, recs[0].InstalledAt.Year())
	assert.Equal(t, []string{"android.permission.READ_SMS"}, recs[1].Capabilities)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing package", "packages:\n  - path: /x\n"},
		{"unknown field", "packages: []\nextra: 1\n"},
		{"bad timestamp", "- package: a\n  installed_at: yesterday\n"},
		{"scalar document", "just a string\n"},
		{"invalid yaml", "packages: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	recs, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- package: GoodApp\n- package: HackTool\n"), 0o644))

	src, err := Open(path)
	require.NoError(t, err)

	var got []string
	for {
		rec, ok, err := src.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec.ID)
	}
	assert.Equal(t, []string{"GoodApp", "HackTool"}, got)

	_, err = Open(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
