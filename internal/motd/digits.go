package motd

import (
	"fmt"
)

// Field widths in digits.
const (
	TextOccupancyWidth   = 5
	BinaryOccupancyWidth = 8
	ProtocolWidth        = 9
)

// FieldLayout describes a fixed-width decimal field embedded in a packet.
// Values are right-aligned and padded on the left with Fill.
type FieldLayout struct {
	// Width is the number of digit positions.
	Width int
	// Stride is the number of bytes per position; the digit is the last
	// byte of each position (2 for UTF-16BE text, 1 for UTF-8 JSON).
	Stride int
	// Fill pads unused leading positions.
	Fill byte
	// RightToLeft writes from the end of the field, which is anchored to
	// the literal that follows it.
	RightToLeft bool
}

var (
	textOccupancyField   = FieldLayout{Width: TextOccupancyWidth, Stride: 2, Fill: '0'}
	binaryOccupancyField = FieldLayout{Width: BinaryOccupancyWidth, Stride: 1, Fill: ' ', RightToLeft: true}
	protocolField        = FieldLayout{Width: ProtocolWidth, Stride: 1, Fill: ' ', RightToLeft: true}
)

// Span returns the field length in bytes.
func (l FieldLayout) Span() int {
	return l.Width * l.Stride
}

// MaxValue returns the largest value the field can hold.
func (l FieldLayout) MaxValue() int {
	return pow10(l.Width) - 1
}

// Fits reports whether value can be written into the field.
func (l FieldLayout) Fits(value int) bool {
	return value >= 0 && value <= l.MaxValue()
}

// PatchField writes value into the field starting at offset. Nothing
// outside [offset, offset+Span()) is touched; on error nothing is written.
func PatchField(buf []byte, offset int, l FieldLayout, value int) error {
	if !l.Fits(value) {
		return fmt.Errorf("%w: %d needs more than %d digits", ErrFieldOverflow, value, l.Width)
	}
	if offset < 0 || offset+l.Span() > len(buf) {
		return fmt.Errorf("%w: field [%d,%d) outside %d-byte buffer", ErrFieldOverflow, offset, offset+l.Span(), len(buf))
	}

	low := l.Stride - 1
	if l.RightToLeft {
		v := value
		for i := l.Width - 1; i >= 0; i-- {
			pos := offset + i*l.Stride + low
			if v == 0 && i < l.Width-1 {
				buf[pos] = l.Fill
				continue
			}
			buf[pos] = byte('0' + v%10)
			v /= 10
		}
		return nil
	}

	div := pow10(l.Width - 1)
	leading := true
	for i := 0; i < l.Width; i++ {
		pos := offset + i*l.Stride + low
		d := value / div % 10
		div /= 10
		if leading && d == 0 && i < l.Width-1 {
			buf[pos] = l.Fill
			continue
		}
		leading = false
		buf[pos] = byte('0' + d)
	}
	return nil
}

// ReadField parses the field starting at offset.
func ReadField(buf []byte, offset int, l FieldLayout) (int, error) {
	if offset < 0 || offset+l.Span() > len(buf) {
		return 0, fmt.Errorf("%w: field [%d,%d) outside %d-byte buffer", ErrFieldOverflow, offset, offset+l.Span(), len(buf))
	}

	value := 0
	digits := 0
	for i := 0; i < l.Width; i++ {
		pos := offset + i*l.Stride
		for j := 0; j < l.Stride-1; j++ {
			if buf[pos+j] != 0 {
				return 0, fmt.Errorf("unexpected byte 0x%02X in field at %d", buf[pos+j], pos+j)
			}
		}
		c := buf[pos+l.Stride-1]
		switch {
		case c >= '0' && c <= '9':
			value = value*10 + int(c-'0')
			digits++
		case c == l.Fill && digits == 0:
		default:
			return 0, fmt.Errorf("unexpected byte %q in field at %d", c, pos+l.Stride-1)
		}
	}
	if digits == 0 {
		return 0, fmt.Errorf("empty field at %d", offset)
	}
	return value, nil
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
