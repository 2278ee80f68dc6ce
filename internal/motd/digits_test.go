package motd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchFieldBinary(t *testing.T) {
	cases := []struct {
		value int
		want  string
	}{
		{0, "       0"},
		{7, "       7"},
		{42, "      42"},
		{4444, "    4444"},
		{99999999, "99999999"},
	}
	for _, tc := range cases {
		buf := []byte(`"max":XXXXXXXX,`)
		require.NoError(t, PatchField(buf, 6, binaryOccupancyField, tc.value))
		assert.Equal(t, `"max":`+tc.want+`,`, string(buf))

		got, err := ReadField(buf, 6, binaryOccupancyField)
		require.NoError(t, err)
		assert.Equal(t, tc.value, got)
	}
}

func TestPatchFieldText(t *testing.T) {
	buf := make([]byte, 2+textOccupancyField.Span()+2)
	for i := range buf {
		buf[i] = 0xEE
	}
	field := buf[2 : 2+textOccupancyField.Span()]
	for i := range field {
		field[i] = 0
	}

	require.NoError(t, PatchField(buf, 2, textOccupancyField, 420))
	assert.Equal(t, []byte{0, '0', 0, '0', 0, '4', 0, '2', 0, '0'}, buf[2:12])
	assert.Equal(t, []byte{0xEE, 0xEE}, buf[:2], "bytes before the field are untouched")
	assert.Equal(t, []byte{0xEE, 0xEE}, buf[12:], "bytes after the field are untouched")

	got, err := ReadField(buf, 2, textOccupancyField)
	require.NoError(t, err)
	assert.Equal(t, 420, got)

	require.NoError(t, PatchField(buf, 2, textOccupancyField, 0))
	got, err = ReadField(buf, 2, textOccupancyField)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestPatchFieldRoundTripKeepsLength(t *testing.T) {
	for _, l := range []FieldLayout{textOccupancyField, binaryOccupancyField, protocolField} {
		buf := bytes.Repeat([]byte{0}, l.Span()+4)
		for _, v := range []int{0, 1, 9, 10, 99, 100, 12345, l.MaxValue()} {
			if !l.Fits(v) {
				continue
			}
			require.NoError(t, PatchField(buf, 2, l, v))
			assert.Len(t, buf, l.Span()+4)
			got, err := ReadField(buf, 2, l)
			require.NoError(t, err)
			assert.Equal(t, v, got, "layout width %d", l.Width)
		}
	}
}

func TestPatchFieldOverflow(t *testing.T) {
	buf := []byte(`"max":       0,`)
	before := bytes.Clone(buf)

	err := PatchField(buf, 6, binaryOccupancyField, 100000000)
	assert.ErrorIs(t, err, ErrFieldOverflow)
	assert.Equal(t, before, buf)

	err = PatchField(buf, 6, binaryOccupancyField, -1)
	assert.ErrorIs(t, err, ErrFieldOverflow)
	assert.Equal(t, before, buf)

	err = PatchField(buf, 10, binaryOccupancyField, 1)
	assert.ErrorIs(t, err, ErrFieldOverflow, "field past the end of the buffer")
	assert.Equal(t, before, buf)

	text := make([]byte, textOccupancyField.Span())
	assert.ErrorIs(t, PatchField(text, 0, textOccupancyField, 100000), ErrFieldOverflow)
}

func TestReadFieldRejectsGarbage(t *testing.T) {
	_, err := ReadField([]byte("   x   1"), 0, binaryOccupancyField)
	assert.Error(t, err)

	_, err = ReadField([]byte("        "), 0, binaryOccupancyField)
	assert.Error(t, err)
}

func TestFieldLayoutLimits(t *testing.T) {
	assert.Equal(t, 99999, textOccupancyField.MaxValue())
	assert.Equal(t, 99999999, binaryOccupancyField.MaxValue())
	assert.Equal(t, 999999999, protocolField.MaxValue())
	assert.False(t, textOccupancyField.Fits(-1))
}
