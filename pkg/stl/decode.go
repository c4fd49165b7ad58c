package stl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	countSize    = 4
	vectorSize   = 12
	attrSize     = 2
	recordSize   = vectorSize*4 + attrSize // normal + 3 vertices + attribute count
	preambleSize = HeaderSize + countSize

	// maxPrealloc bounds the slice capacity reserved from an untrusted
	// triangle count when the input length is not known up front.
	maxPrealloc = 1 << 16
)

// ErrTruncatedInput is returned when the input ends before a field that the
// binary layout requires.
var ErrTruncatedInput = errors.New("stl: truncated input")

// TruncatedError describes where a decode ran out of bytes.
type TruncatedError struct {
	Field    string // "header", "count", "normal", "vertex" or "attribute"
	Triangle int    // triangle index, -1 for header and count
	Offset   int64  // byte offset at which the field starts
	Want     int    // bytes required by the field
	Got      int    // bytes actually available
}

func (e *TruncatedError) Error() string {
	if e.Triangle >= 0 {
		return fmt.Sprintf("stl: truncated input: triangle %d %s at offset %d: need %d bytes, got %d",
			e.Triangle, e.Field, e.Offset, e.Want, e.Got)
	}
	return fmt.Sprintf("stl: truncated input: %s at offset %d: need %d bytes, got %d",
		e.Field, e.Offset, e.Want, e.Got)
}

func (e *TruncatedError) Unwrap() error { return ErrTruncatedInput }

// Decode parses a binary STL file held in memory.
func Decode(data []byte) (Mesh, error) {
	capHint := 0
	if len(data) > preambleSize {
		capHint = (len(data) - preambleSize) / recordSize
	}
	return decode(bytes.NewReader(data), capHint)
}

// Read parses a binary STL stream. It consumes exactly the bytes the
// declared triangle count requires and leaves the rest of r unread.
func Read(r io.Reader) (Mesh, error) {
	return decode(r, maxPrealloc)
}

// decoder reads fixed-size little-endian fields and tracks the offset for
// error reporting.
type decoder struct {
	r   io.Reader
	off int64
	buf [HeaderSize]byte
}

func (d *decoder) next(field string, tri, n int) ([]byte, error) {
	b := d.buf[:n]
	got, err := io.ReadFull(d.r, b)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &TruncatedError{Field: field, Triangle: tri, Offset: d.off, Want: n, Got: got}
		}
		return nil, fmt.Errorf("stl: read %s: %w", field, err)
	}
	d.off += int64(n)
	return b, nil
}

func (d *decoder) vertex(field string, tri int) (Vertex, error) {
	b, err := d.next(field, tri, vectorSize)
	if err != nil {
		return Vertex{}, err
	}
	return Vertex{
		math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

func decode(r io.Reader, capHint int) (Mesh, error) {
	d := &decoder{r: r}
	var m Mesh

	h, err := d.next("header", -1, HeaderSize)
	if err != nil {
		return Mesh{}, err
	}
	copy(m.header[:], h)

	c, err := d.next("count", -1, countSize)
	if err != nil {
		return Mesh{}, err
	}
	count := binary.LittleEndian.Uint32(c)

	if uint64(capHint) > uint64(count) {
		capHint = int(count)
	}
	m.triangles = make([]Triangle, 0, capHint)

	for i := 0; uint64(i) < uint64(count); i++ {
		// The stored normal is not retained.
		if _, err := d.next("normal", i, vectorSize); err != nil {
			return Mesh{}, err
		}
		var t Triangle
		for v := 0; v < 3; v++ {
			if t[v], err = d.vertex("vertex", i); err != nil {
				return Mesh{}, err
			}
		}
		if _, err := d.next("attribute", i, attrSize); err != nil {
			return Mesh{}, err
		}
		m.triangles = append(m.triangles, t)
	}
	return m, nil
}
