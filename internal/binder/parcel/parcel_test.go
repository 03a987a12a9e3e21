package parcel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParcel_Int32AndBool(t *testing.T) {
	p := Obtain()
	defer p.Recycle()

	p.WriteInt32(-7)
	p.WriteBool(true)
	p.WriteBool(false)
	assert.Equal(t, 12, p.Len())

	v, err := p.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v)

	b, err := p.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	b, err = p.ReadBool()
	require.NoError(t, err)
	assert.False(t, b)

	_, err = p.ReadInt32()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestParcel_String16(t *testing.T) {
	tests := []struct {
		name string
		in   string
		size int
	}{
		{"empty", "", 8},
		{"odd length", "abc", 12},
		{"even length", "abcd", 16},
		{"uuid", "38400000-8cf0-11bd-b23e-10b96e40000d", 80},
		{"surrogate pair", "id-\U0001F600", 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Obtain()
			defer p.Recycle()

			p.WriteString16(tt.in)
			p.WriteInt32(42)
			assert.Equal(t, tt.size+4, p.Len())
			assert.Zero(t, p.Len()%4)

			s, err := p.ReadString16()
			require.NoError(t, err)
			assert.Equal(t, tt.in, s)

			// cursor must land on the next aligned field
			v, err := p.ReadInt32()
			require.NoError(t, err)
			assert.Equal(t, int32(42), v)
		})
	}
}

func TestParcel_NullString16(t *testing.T) {
	p := Obtain()
	defer p.Recycle()

	p.WriteNullString16()

	s, null, err := p.ReadNullableString16()
	require.NoError(t, err)
	assert.True(t, null)
	assert.Empty(t, s)
}

func TestParcel_String16Malformed(t *testing.T) {
	t.Run("negative length", func(t *testing.T) {
		p := Obtain()
		defer p.Recycle()
		p.WriteInt32(-5)

		_, err := p.ReadString16()
		assert.ErrorIs(t, err, ErrBadString)
	})

	t.Run("truncated", func(t *testing.T) {
		p := Obtain()
		defer p.Recycle()
		p.WriteInt32(100)
		p.WriteInt32(0)

		_, err := p.ReadString16()
		assert.ErrorIs(t, err, ErrShortRead)
	})

	t.Run("missing terminator", func(t *testing.T) {
		p := FromBytes([]byte{1, 0, 0, 0, 'a', 0, 'b', 0})
		defer p.Recycle()

		_, err := p.ReadString16()
		assert.ErrorIs(t, err, ErrBadString)
	})
}

func TestParcel_InterfaceToken(t *testing.T) {
	const token = "com.example.IService"

	p := Obtain()
	defer p.Recycle()
	p.WriteInterfaceToken(token)
	p.WriteInt32(1)

	require.NoError(t, p.EnforceInterface(token))
	v, err := p.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	require.NoError(t, p.SetPosition(0))
	err = p.EnforceInterface("com.example.IOther")
	assert.ErrorIs(t, err, ErrInterfaceMismatch)
}

func TestParcel_EnforceInterfaceBadHeader(t *testing.T) {
	p := Obtain()
	defer p.Recycle()
	p.WriteInt32(0)
	p.WriteInt32(-1)
	p.WriteInt32(0x1234)
	p.WriteString16("com.example.IService")

	err := p.EnforceInterface("com.example.IService")
	assert.ErrorIs(t, err, ErrInterfaceMismatch)
}

func TestParcel_Exceptions(t *testing.T) {
	t.Run("no exception", func(t *testing.T) {
		p := Obtain()
		defer p.Recycle()
		p.WriteNoException()
		p.WriteInt32(9)

		require.NoError(t, p.ReadException())
		v, err := p.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, int32(9), v)
	})

	t.Run("remote exception", func(t *testing.T) {
		p := Obtain()
		defer p.Recycle()
		p.WriteException(ExSecurity, "not allowed")

		err := p.ReadException()
		var re *RemoteException
		require.True(t, errors.As(err, &re))
		assert.Equal(t, ExSecurity, re.Code)
		assert.Equal(t, "not allowed", re.Message)
		assert.Contains(t, re.Error(), "SecurityException")
	})

	t.Run("reply header is skipped", func(t *testing.T) {
		p := Obtain()
		defer p.Recycle()
		p.WriteInt32(ExHasReplyHeader)
		p.WriteInt32(12)
		p.WriteInt32(0)
		p.WriteInt32(0)
		p.WriteInt32(5)

		require.NoError(t, p.ReadException())
		v, err := p.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, int32(5), v)
	})

	t.Run("empty reply", func(t *testing.T) {
		p := Obtain()
		defer p.Recycle()
		assert.ErrorIs(t, p.ReadException(), ErrShortRead)
	})
}

func TestParcel_Recycle(t *testing.T) {
	p := Obtain()
	p.WriteInt32(1)
	p.Recycle()
	p.Recycle()

	assert.True(t, p.Recycled())
	assert.Nil(t, p.Bytes())
	_, err := p.ReadInt32()
	assert.ErrorIs(t, err, ErrRecycled)
	assert.Panics(t, func() { p.WriteInt32(2) })
}

func TestFromBytes_Copies(t *testing.T) {
	src := []byte{1, 0, 0, 0}
	p := FromBytes(src)
	defer p.Recycle()

	src[0] = 9
	v, err := p.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
}
