package ringbuf

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	buf, err := New(100)
	require.NoError(t, err)
	defer buf.Close()

	require.True(t, buf.Size()&(buf.Size()-1) == 0, "size must be a power of two, got %d", buf.Size())
	require.GreaterOrEqual(t, buf.Size(), uint64(100))
}

func TestUsedFreeInvariant(t *testing.T) {
	buf, err := New(64 * 1024)
	require.NoError(t, err)
	defer buf.Close()

	var wrote, read uint64
	for i := 0; i < 200; i++ {
		w := uint64(rand.Intn(1000))
		if w > buf.Free() {
			w = buf.Free()
		}
		dst := buf.BeginWrite()
		require.GreaterOrEqual(t, uint64(len(dst)), buf.Free())
		require.NoError(t, buf.EndWrite(w))
		wrote += w

		require.Equal(t, wrote-read, buf.Used())
		require.Equal(t, buf.Size()-buf.Used(), buf.Free())
		require.Equal(t, buf.Size(), buf.Used()+buf.Free())

		r := uint64(rand.Intn(int(buf.Used()) + 1))
		if r > 0 {
			src := buf.BeginRead()
			require.GreaterOrEqual(t, uint64(len(src)), buf.Used())
		}
		require.NoError(t, buf.EndRead(r))
		read += r
	}
}

func TestRoundTripArbitraryBytes(t *testing.T) {
	buf, err := New(4096)
	require.NoError(t, err)
	defer buf.Close()

	payload := make([]byte, buf.Size())
	rand.Read(payload)

	dst := buf.BeginWrite()
	require.Equal(t, int(buf.Size()), len(dst))
	copy(dst, payload)
	require.NoError(t, buf.EndWrite(uint64(len(payload))))

	got := buf.BeginRead()
	require.True(t, bytes.Equal(payload, got))
	require.NoError(t, buf.EndRead(uint64(len(got))))
	require.Equal(t, uint64(0), buf.Used())
}

func TestWrapAroundLinearizes(t *testing.T) {
	buf, err := New(4096)
	require.NoError(t, err)
	defer buf.Close()

	size := int(buf.Size())
	first := make([]byte, size-10)
	rand.Read(first)
	dst := buf.BeginWrite()
	copy(dst, first)
	require.NoError(t, buf.EndWrite(uint64(len(first))))

	read := buf.BeginRead()
	require.NoError(t, buf.EndRead(uint64(len(read))))

	// Write cursor now sits 10 bytes before the end; a 30-byte write wraps.
	wrapped := make([]byte, 30)
	rand.Read(wrapped)
	dst = buf.BeginWrite()
	require.GreaterOrEqual(t, len(dst), 30)
	copy(dst, wrapped)
	require.NoError(t, buf.EndWrite(30))

	got := buf.BeginRead()
	require.True(t, bytes.Equal(wrapped, got), "wrapped write must read back contiguous and correct")
}

func TestDoubleMappingAliasesAcrossBoundary(t *testing.T) {
	buf, err := New(4096)
	require.NoError(t, err)
	defer buf.Close()

	if !buf.Doubled() {
		t.Skip("host does not support the double-mapped backing; fallback path is covered by other tests")
	}

	region := buf.region.slice()
	size := buf.size
	for _, off := range []uint64{0, 17, size - 1} {
		region[off] = 0xAB
		if region[off+size] != 0xAB {
			t.Fatalf("offset %d not aliased across boundary", off)
		}
	}
}

func TestEndReadEndWriteBoundsChecked(t *testing.T) {
	buf, err := New(4096)
	require.NoError(t, err)
	defer buf.Close()

	require.Error(t, buf.EndWrite(buf.Free()+1))
	require.Error(t, buf.EndRead(1))
}
