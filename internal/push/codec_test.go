package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
)

func TestCodec_DecodeText(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()

	u, err := c.DecodeText([]byte(`{"dataType":"prices","userId":"alice","version":"7","changeType":"modified","data":{"btc":64000}}`))
	require.NoError(t, err)
	assert.Equal(t, "prices", u.DataType)
	assert.Equal(t, "alice", u.UserID)
	assert.Equal(t, "7", u.Version)
	assert.Equal(t, refresh.ChangeModified, u.ChangeType)
	assert.Equal(t, map[string]any{"btc": float64(64000)}, u.Data)
}

func TestCodec_BinaryRoundTrip(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()

	in := refresh.PushUpdate{
		DataType:   "orders",
		Version:    "12",
		ChangeType: refresh.ChangeAdded,
		Data:       []any{map[string]any{"id": "o-1", "qty": 3.0}},
	}
	frame, err := c.EncodeBinary(in)
	require.NoError(t, err)

	out, err := c.DecodeBinary(frame)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_MalformedFrames(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.DecodeText([]byte(`{not json`))
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = c.DecodeText([]byte(`{"data":1}`))
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = c.DecodeBinary([]byte("plainly not zstd"))
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}
