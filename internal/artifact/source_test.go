package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceSource_ExhaustsInOrder(t *testing.T) {
	src := NewSliceSource([]Record{{ID: "a"}, {ID: "b"}})
	ctx := context.Background()

	var got []string
	for {
		r, ok, err := src.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	// Not restartable: stays exhausted.
	_, ok, err := src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSliceSource_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewSliceSource([]Record{{ID: "a"}}).Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFetchError(t *testing.T) {
	require.NoError(t, NewFetchError("x", nil))

	base := errors.New("disk gone")
	err := NewFetchError("filesystem", base)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "filesystem", fe.Source)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "artifact source filesystem: disk gone", err.Error())

	// Already wrapped errors are passed through unchanged.
	assert.Same(t, fe, NewFetchError("other", err).(*FetchError))
}

func TestRecord_HasCapability(t *testing.T) {
	r := Record{Capabilities: []string{"android.permission.CAMERA"}}
	assert.True(t, r.HasCapability("android.permission.CAMERA"))
	assert.False(t, r.HasCapability("android.permission.camera"))
}
