package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// EncodedSize returns the number of bytes Encode produces for m.
func EncodedSize(m Mesh) int {
	return preambleSize + recordSize*len(m.triangles)
}

// Encode returns the binary STL encoding of m.
func Encode(m Mesh) []byte {
	out := make([]byte, EncodedSize(m))
	copy(out, m.header[:])
	binary.LittleEndian.PutUint32(out[HeaderSize:], m.TriangleCount())
	off := preambleSize
	for _, t := range m.triangles {
		putRecord(out[off:off+recordSize], t)
		off += recordSize
	}
	return out
}

// Write writes the binary STL encoding of m to w.
func Write(w io.Writer, m Mesh) error {
	bw := bufio.NewWriter(w)
	var pre [preambleSize]byte
	copy(pre[:], m.header[:])
	binary.LittleEndian.PutUint32(pre[HeaderSize:], m.TriangleCount())
	if _, err := bw.Write(pre[:]); err != nil {
		return fmt.Errorf("stl: write header: %w", err)
	}
	var rec [recordSize]byte
	for i, t := range m.triangles {
		putRecord(rec[:], t)
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("stl: write triangle %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("stl: flush: %w", err)
	}
	return nil
}

// WriteRaw copies already-encoded STL bytes to w without inspecting them.
func WriteRaw(w io.Writer, raw []byte) error {
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("stl: write raw: %w", err)
	}
	return nil
}

// putRecord fills a 50-byte triangle record: normal, three vertices and a
// zero attribute byte count.
func putRecord(b []byte, t Triangle) {
	putVertex(b[0:12], Normal(t))
	putVertex(b[12:24], t[0])
	putVertex(b[24:36], t[1])
	putVertex(b[36:48], t[2])
	binary.LittleEndian.PutUint16(b[48:50], 0)
}

func putVertex(b []byte, v Vertex) {
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(v[2]))
}

// Normal returns the unit normal of t following the right-hand rule over
// its winding. Degenerate triangles yield the zero vector.
func Normal(t Triangle) Vertex {
	a := toVec(t[0])
	e1 := toVec(t[1]).Sub(a)
	e2 := toVec(t[2]).Sub(a)
	n := e1.Cross(e2)
	l := n.Length()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vertex{}
	}
	n = n.MulScalar(1 / l)
	return Vertex{float32(n.X), float32(n.Y), float32(n.Z)}
}

func toVec(v Vertex) v3.Vec {
	return v3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}
