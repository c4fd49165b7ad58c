package stl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
)

// rawSTL builds a binary STL by hand so the tests do not depend on Encode.
func rawSTL(count uint32, tris []Triangle, normal Vertex) []byte {
	var buf bytes.Buffer
	header := make([]byte, HeaderSize)
	copy(header, "hand built")
	buf.Write(header)
	binary.Write(&buf, binary.LittleEndian, count)
	for _, t := range tris {
		binary.Write(&buf, binary.LittleEndian, normal)
		for _, v := range t {
			binary.Write(&buf, binary.LittleEndian, v)
		}
		binary.Write(&buf, binary.LittleEndian, uint16(0xBEEF))
	}
	return buf.Bytes()
}

var unitTri = Triangle{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}

func TestDecodeEmptyMesh(t *testing.T) {
	m, err := Decode(rawSTL(0, nil, Vertex{}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Len() != 0 || m.TriangleCount() != 0 {
		t.Errorf("expected empty mesh, got %d triangles", m.Len())
	}
	if !m.IsEmpty() {
		t.Error("IsEmpty() = false, want true")
	}
	if m.HeaderText() != "hand built" {
		t.Errorf("HeaderText() = %q, want %q", m.HeaderText(), "hand built")
	}
}

func TestDecodeSingleTriangle(t *testing.T) {
	data := rawSTL(1, []Triangle{unitTri}, Vertex{9, 9, 9})
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 triangle, got %d", m.Len())
	}
	if got := m.Triangle(0); got != unitTri {
		t.Errorf("triangle = %v, want %v", got, unitTri)
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := rawSTL(3, []Triangle{unitTri, unitTri, unitTri}, Vertex{})

	tests := []struct {
		name     string
		data     []byte
		field    string
		triangle int
	}{
		{"empty input", nil, "header", -1},
		{"short header", full[:40], "header", -1},
		{"missing count", full[:HeaderSize], "count", -1},
		{"partial count", full[:HeaderSize+2], "count", -1},
		{"no triangles", full[:preambleSize], "normal", 0},
		{"one of three", full[:preambleSize+recordSize], "normal", 1},
		{"cut in vertex", full[:preambleSize+recordSize+20], "vertex", 1},
		{"missing attribute", full[:preambleSize+3*recordSize-1], "attribute", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.data)
			if !errors.Is(err, ErrTruncatedInput) {
				t.Fatalf("expected ErrTruncatedInput, got %v", err)
			}
			if m.Len() != 0 {
				t.Errorf("expected no triangles on failure, got %d", m.Len())
			}
			var te *TruncatedError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TruncatedError, got %T", err)
			}
			if te.Field != tt.field || te.Triangle != tt.triangle {
				t.Errorf("truncated at %s/%d, want %s/%d", te.Field, te.Triangle, tt.field, tt.triangle)
			}
		})
	}
}

func TestDecodeShortPreambleAlwaysFails(t *testing.T) {
	data := rawSTL(0, nil, Vertex{})
	for l := 0; l < preambleSize; l++ {
		if _, err := Decode(data[:l]); !errors.Is(err, ErrTruncatedInput) {
			t.Fatalf("length %d: expected ErrTruncatedInput, got %v", l, err)
		}
	}
}

func TestDecodeHugeCountDoesNotPreallocate(t *testing.T) {
	data := rawSTL(math.MaxUint32, []Triangle{unitTri}, Vertex{})
	if _, err := Decode(data); !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("expected ErrTruncatedInput, got %v", err)
	}
	if _, err := Read(bytes.NewReader(data)); !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("Read: expected ErrTruncatedInput, got %v", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := append(rawSTL(1, []Triangle{unitTri}, Vertex{}), "trailing junk"...)
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 triangle, got %d", m.Len())
	}
}

func TestReadLeavesRemainder(t *testing.T) {
	r := bytes.NewReader(append(rawSTL(1, []Triangle{unitTri}, Vertex{}), "rest"...))
	if _, err := Read(r); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Len() != len("rest") {
		t.Errorf("expected %d unread bytes, got %d", len("rest"), r.Len())
	}
}

func TestRoundTrip(t *testing.T) {
	tris := []Triangle{
		unitTri,
		{{-1.5, 2.25, 3}, {4, -5, 6.125}, {7, 8, -9}},
		{{float32(math.Inf(1)), 0, 0}, {0, float32(math.Copysign(0, -1)), 0}, {1e-38, 1e38, 0}},
		{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
	}
	m := NewMesh("round trip", tris)

	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode(Encode): %v", err)
	}
	if !got.Equal(m) {
		t.Errorf("round trip mismatch:\n got  %v\n want %v", got.Triangles(), m.Triangles())
	}
	if got.HeaderText() != "round trip" {
		t.Errorf("header = %q", got.HeaderText())
	}
	if got.TriangleCount() != uint32(got.Len()) {
		t.Errorf("TriangleCount %d != Len %d", got.TriangleCount(), got.Len())
	}
}

func TestRoundTripRandomMeshes(t *testing.T) {
	rng := rand.New(rand.NewSource(20261019))
	for _, n := range []int{0, 1, 2, 3, 17, 100, 1000, 4096} {
		tris := make([]Triangle, n)
		for i := range tris {
			for v := range tris[i] {
				for c := range tris[i][v] {
					tris[i][v][c] = math.Float32frombits(rng.Uint32())
				}
			}
		}
		header := make([]byte, rng.Intn(HeaderSize+20))
		rng.Read(header)
		m := NewMesh(string(header), tris)

		data := Encode(m)
		if len(data) != HeaderSize+4+50*n {
			t.Fatalf("n=%d: encoded %d bytes, want %d", n, len(data), HeaderSize+4+50*n)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("n=%d: Decode: %v", n, err)
		}
		if !got.Equal(m) {
			t.Errorf("n=%d: triangles differ after round trip", n)
		}
		if got.Header() != m.Header() {
			t.Errorf("n=%d: header differs after round trip", n)
		}
		if got.TriangleCount() != uint32(n) {
			t.Errorf("n=%d: TriangleCount = %d", n, got.TriangleCount())
		}
	}
}

func TestWriteMatchesEncode(t *testing.T) {
	m := NewMesh("w", []Triangle{unitTri, {{0, 0, 1}, {1, 0, 1}, {0, 1, 1}}})
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), Encode(m)) {
		t.Error("Write and Encode produced different bytes")
	}
	if buf.Len() != EncodedSize(m) {
		t.Errorf("size = %d, want %d", buf.Len(), EncodedSize(m))
	}
}

func TestEncodeLayout(t *testing.T) {
	m := NewMesh(strings.Repeat("h", 100), []Triangle{unitTri})
	b := Encode(m)

	if len(b) != HeaderSize+4+50 {
		t.Fatalf("len = %d, want %d", len(b), HeaderSize+4+50)
	}
	if string(b[:HeaderSize]) != strings.Repeat("h", HeaderSize) {
		t.Error("header was not truncated to 80 bytes")
	}
	if n := binary.LittleEndian.Uint32(b[HeaderSize:]); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	rec := b[HeaderSize+4:]
	nz := math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))
	if nz != 1 {
		t.Errorf("normal z = %v, want 1 for counter-clockwise XY triangle", nz)
	}
	if attr := binary.LittleEndian.Uint16(rec[48:50]); attr != 0 {
		t.Errorf("attribute count = %d, want 0", attr)
	}
}

func TestEncodeShortHeaderPadsWithZeros(t *testing.T) {
	b := Encode(NewMesh("abc", nil))
	for i := 3; i < HeaderSize; i++ {
		if b[i] != 0 {
			t.Fatalf("header byte %d = %#x, want 0", i, b[i])
		}
	}
}

func TestNormalDegenerate(t *testing.T) {
	if n := Normal(Triangle{{1, 1, 1}, {1, 1, 1}, {2, 2, 2}}); n != (Vertex{}) {
		t.Errorf("Normal of degenerate triangle = %v, want zero", n)
	}
}

func TestWriteRawPassThrough(t *testing.T) {
	raw := []byte("not an stl at all")
	var buf bytes.Buffer
	if err := WriteRaw(&buf, raw); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), raw) {
		t.Errorf("WriteRaw altered bytes: %q", buf.Bytes())
	}
}

func TestNewMeshCopiesInput(t *testing.T) {
	tris := []Triangle{unitTri}
	m := NewMesh("", tris)
	tris[0][0][0] = 42
	if m.Triangle(0)[0][0] != 0 {
		t.Error("mutating the input slice changed the mesh")
	}
	out := m.Triangles()
	out[0][0][0] = 42
	if m.Triangle(0)[0][0] != 0 {
		t.Error("mutating Triangles() result changed the mesh")
	}
}

func TestAllIteratesInOrder(t *testing.T) {
	second := Triangle{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}}
	m := NewMesh("", []Triangle{unitTri, second})
	var seen []Triangle
	for i, tri := range m.All() {
		if i != len(seen) {
			t.Fatalf("index %d out of order", i)
		}
		seen = append(seen, tri)
	}
	if len(seen) != 2 || seen[0] != unitTri || seen[1] != second {
		t.Errorf("All() yielded %v", seen)
	}
}

func TestBounds(t *testing.T) {
	if _, _, ok := (Mesh{}).Bounds(); ok {
		t.Error("Bounds() ok = true for empty mesh")
	}
	m := NewMesh("", []Triangle{{{-1, 2, 3}, {4, -5, 6}, {0, 0, -7}}})
	min, max, ok := m.Bounds()
	if !ok {
		t.Fatal("Bounds() ok = false")
	}
	if min != (Vertex{-1, -5, -7}) || max != (Vertex{4, 2, 6}) {
		t.Errorf("Bounds() = %v %v", min, max)
	}
}
