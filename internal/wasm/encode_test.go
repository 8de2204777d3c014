package wasm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLEBRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1} {
		var buf bytes.Buffer
		writeULEB(&buf, v)
		r := &reader{buf: buf.Bytes()}
		got, err := r.uleb()
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.True(t, r.eof())
	}

	for _, v := range []int64{0, 1, -1, 63, 64, -64, -65, 1 << 40, -(1 << 40), 1<<62 - 1, -(1 << 62)} {
		var buf bytes.Buffer
		writeSLEB(&buf, v)
		r := &reader{buf: buf.Bytes()}
		got, err := r.sleb()
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %d", v)
		assert.True(t, r.eof())
	}
}

func TestPackUnpack(t *testing.T) {
	for _, tc := range []struct {
		ptr int32
		n   int
	}{
		{0, 0},
		{8, 5},
		{1 << 20, 65535},
	} {
		packed := Pack(tc.ptr, tc.n)
		ptr, n := Unpack(packed)
		assert.Equal(t, tc.ptr, ptr)
		assert.Equal(t, tc.n, n)
	}
}

func TestCodeWriterLocalsRLE(t *testing.T) {
	var w codeWriter
	w.op(OpEnd)
	body := w.finish([]byte{TypeI64, TypeI64, TypeI64})

	r := &reader{buf: body}
	runs, err := r.uleb()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), runs)
	count, err := r.uleb()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
	typ, err := r.byte()
	require.NoError(t, err)
	assert.Equal(t, TypeI64, typ)
}

func TestBuilderRejectsMissingBodies(t *testing.T) {
	b := newBuilder()
	b.addFunc(nil, nil)
	_, err := b.encode()
	assert.Error(t, err)
}
