package tailbuffer

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroCapacity(t *testing.T) {
	tb := New(0)
	require.NotNil(t, tb)
	n, err := tb.Write([]byte("ab"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "b", tb.String())
}

func TestReadEmpty(t *testing.T) {
	tb := New(8)
	buf := make([]byte, 8)
	n, err := tb.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, n)
}

func TestKeepsTail(t *testing.T) {
	tb := New(4)
	n, err := tb.Write([]byte("asdfg"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "sdfg", tb.String())

	// A second write pushes the oldest bytes out.
	_, err = tb.Write([]byte("hj"))
	require.NoError(t, err)
	require.Equal(t, "fghj", tb.String())
}

func TestReadDrains(t *testing.T) {
	tb := New(4)
	_, err := tb.Write([]byte("wxyz"))
	require.NoError(t, err)

	buf := make([]byte, 3)
	n, err := tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "wxy", string(buf[:n]))

	n, err = tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "z", string(buf[:n]))

	_, err = tb.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestCopyOut(t *testing.T) {
	tb := New(4)
	_, err := tb.Write([]byte("engine exploded"))
	require.NoError(t, err)

	str := new(strings.Builder)
	n, err := io.Copy(str, tb)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.Equal(t, "oded", str.String())
}
