// Package stl reads and writes binary STL files.
//
// A decoded file is held as a Mesh: an 80-byte header and an ordered list
// of triangles. Per-triangle normals and attribute byte counts are not
// retained; Encode recomputes normals from the vertex winding.
package stl

import (
	"bytes"
	"iter"
	"math"
)

// HeaderSize is the fixed length of the binary STL header in bytes.
const HeaderSize = 80

// Vertex is a point in model space: x, y, z.
type Vertex [3]float32

// Triangle is three vertices in winding order.
type Triangle [3]Vertex

// Mesh is an immutable triangle mesh. The zero value is an empty mesh
// with a blank header.
type Mesh struct {
	header    [HeaderSize]byte
	triangles []Triangle
}

// NewMesh returns a mesh with the given header and a copy of tris.
// Headers longer than HeaderSize bytes are truncated.
func NewMesh(header string, tris []Triangle) Mesh {
	m := Mesh{triangles: make([]Triangle, len(tris))}
	copy(m.header[:], header)
	copy(m.triangles, tris)
	return m
}

// Header returns the raw 80-byte header.
func (m Mesh) Header() [HeaderSize]byte {
	return m.header
}

// HeaderText returns the header with trailing NUL and space padding removed.
func (m Mesh) HeaderText() string {
	return string(bytes.TrimRight(m.header[:], "\x00 "))
}

// TriangleCount returns the number of triangles as stored on disk.
func (m Mesh) TriangleCount() uint32 {
	return uint32(len(m.triangles))
}

// Len returns the number of triangles.
func (m Mesh) Len() int {
	return len(m.triangles)
}

// IsEmpty reports whether the mesh has no triangles.
func (m Mesh) IsEmpty() bool {
	return len(m.triangles) == 0
}

// Triangle returns the i-th triangle. It panics if i is out of range.
func (m Mesh) Triangle(i int) Triangle {
	return m.triangles[i]
}

// Triangles returns a copy of the triangle list.
func (m Mesh) Triangles() []Triangle {
	out := make([]Triangle, len(m.triangles))
	copy(out, m.triangles)
	return out
}

// All iterates over the triangles in order.
func (m Mesh) All() iter.Seq2[int, Triangle] {
	return func(yield func(int, Triangle) bool) {
		for i, t := range m.triangles {
			if !yield(i, t) {
				return
			}
		}
	}
}

// Equal reports whether both meshes hold the same triangles in the same
// order, comparing coordinates bit for bit. Headers are not compared.
func (m Mesh) Equal(other Mesh) bool {
	if len(m.triangles) != len(other.triangles) {
		return false
	}
	for i, t := range m.triangles {
		o := other.triangles[i]
		for v := 0; v < 3; v++ {
			for c := 0; c < 3; c++ {
				if math.Float32bits(t[v][c]) != math.Float32bits(o[v][c]) {
					return false
				}
			}
		}
	}
	return true
}

// Bounds returns the axis-aligned bounding box of all vertices.
// ok is false for an empty mesh.
func (m Mesh) Bounds() (min, max Vertex, ok bool) {
	if len(m.triangles) == 0 {
		return min, max, false
	}
	min = m.triangles[0][0]
	max = min
	for _, t := range m.triangles {
		for _, v := range t {
			for c := 0; c < 3; c++ {
				if v[c] < min[c] {
					min[c] = v[c]
				}
				if v[c] > max[c] {
					max[c] = v[c]
				}
			}
		}
	}
	return min, max, true
}
