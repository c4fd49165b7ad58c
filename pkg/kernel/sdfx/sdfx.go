// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/lispcad/pkg/kernel"
	"github.com/chazu/lispcad/pkg/stl"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// DefaultMeshCells controls marching cubes tessellation resolution along the
// longest side of the bounding box.
const DefaultMeshCells = 200

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// sdfxProfile wraps an sdf.SDF2 to implement kernel.Profile.
type sdfxProfile struct {
	s sdf.SDF2
}

// BoundingBox returns the axis-aligned bounding rectangle.
func (p *sdfxProfile) BoundingBox() (min, max [2]float64) {
	bb := p.s.BoundingBox()
	return [2]float64{bb.Min.X, bb.Min.Y}, [2]float64{bb.Max.X, bb.Max.Y}
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct {
	cells int
}

// Option configures an SdfxKernel.
type Option func(*SdfxKernel)

// WithCells sets the marching cubes resolution. Values below 1 keep the default.
func WithCells(n int) Option {
	return func(k *SdfxKernel) {
		if n > 0 {
			k.cells = n
		}
	}
}

// New returns a new SdfxKernel.
func New(opts ...Option) *SdfxKernel {
	k := &SdfxKernel{cells: DefaultMeshCells}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Cells reports the marching cubes resolution in use.
func (k *SdfxKernel) Cells() int { return k.cells }

func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*sdfxSolid).s
}

func wrap(s sdf.SDF3) kernel.Solid {
	return &sdfxSolid{s: s}
}

// Box creates a box with the given dimensions, centered on the origin.
func (k *SdfxKernel) Box(x, y, z float64) (kernel.Solid, error) {
	for _, d := range []struct {
		name string
		v    float64
	}{{"x", x}, {"y", y}, {"z", z}} {
		if err := kernel.Positive("box", d.name, d.v); err != nil {
			return nil, err
		}
	}
	s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, 0)
	if err != nil {
		return nil, fmt.Errorf("box: %w", err)
	}
	return wrap(s), nil
}

// Cylinder creates a cylinder along Z, centered on the origin.
func (k *SdfxKernel) Cylinder(height, radius float64) (kernel.Solid, error) {
	if err := kernel.Positive("cylinder", "height", height); err != nil {
		return nil, err
	}
	if err := kernel.Positive("cylinder", "radius", radius); err != nil {
		return nil, err
	}
	s, err := sdf.Cylinder3D(height, radius, 0)
	if err != nil {
		return nil, fmt.Errorf("cylinder: %w", err)
	}
	return wrap(s), nil
}

// Sphere creates a sphere centered on the origin.
func (k *SdfxKernel) Sphere(radius float64) (kernel.Solid, error) {
	if err := kernel.Positive("sphere", "radius", radius); err != nil {
		return nil, err
	}
	s, err := sdf.Sphere3D(radius)
	if err != nil {
		return nil, fmt.Errorf("sphere: %w", err)
	}
	return wrap(s), nil
}

// Circle creates a disc of the given radius centered on (x, y).
func (k *SdfxKernel) Circle(x, y, radius float64) (kernel.Profile, error) {
	if err := kernel.Finite("circle", "x", x); err != nil {
		return nil, err
	}
	if err := kernel.Finite("circle", "y", y); err != nil {
		return nil, err
	}
	if err := kernel.Positive("circle", "radius", radius); err != nil {
		return nil, err
	}
	c, err := sdf.Circle2D(radius)
	if err != nil {
		return nil, fmt.Errorf("circle: %w", err)
	}
	return &sdfxProfile{s: sdf.Transform2D(c, sdf.Translate2d(v2.Vec{X: x, Y: y}))}, nil
}

// Polygon creates a closed polygon through points, in either winding.
func (k *SdfxKernel) Polygon(points [][2]float64) (kernel.Profile, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("polygon: need at least 3 points, got %d: %w", len(points), kernel.ErrInvalidDimension)
	}
	verts := make([]v2.Vec, len(points))
	for i, p := range points {
		for j, name := range []string{"x", "y"} {
			if err := kernel.Finite("polygon", fmt.Sprintf("point %d %s", i+1, name), p[j]); err != nil {
				return nil, err
			}
		}
		verts[i] = v2.Vec{X: p[0], Y: p[1]}
	}
	if math.Abs(kernel.PolygonArea(points)) < 1e-9 {
		return nil, fmt.Errorf("polygon: points enclose no area: %w", kernel.ErrInvalidDimension)
	}
	s, err := sdf.Polygon2D(verts)
	if err != nil {
		return nil, fmt.Errorf("polygon: %w", err)
	}
	return &sdfxProfile{s: s}, nil
}

// Extrude sweeps a profile along Z between 0 and height.
func (k *SdfxKernel) Extrude(p kernel.Profile, height float64) (kernel.Solid, error) {
	if err := kernel.NonZero("extrude", "height", height); err != nil {
		return nil, err
	}
	// Extrude3D is centered on Z=0.
	s := sdf.Extrude3D(p.(*sdfxProfile).s, math.Abs(height))
	return wrap(sdf.Transform3D(s, sdf.Translate3d(v3.Vec{Z: height / 2}))), nil
}

// Union returns the union of two solids.
func (k *SdfxKernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Difference returns the difference a - b.
func (k *SdfxKernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)))
}

// Intersection returns the intersection of two solids.
func (k *SdfxKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Intersect3D(unwrap(a), unwrap(b)))
}

// Translate moves a solid by (x, y, z).
func (k *SdfxKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	m := sdf.Translate3d(v3.Vec{X: x, Y: y, Z: z})
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// Rotate rotates a solid by Euler angles (degrees), applied X then Y then Z.
func (k *SdfxKernel) Rotate(s kernel.Solid, x, y, z float64) kernel.Solid {
	xRad := x * math.Pi / 180.0
	yRad := y * math.Pi / 180.0
	zRad := z * math.Pi / 180.0

	m := sdf.RotateZ(zRad).Mul(sdf.RotateY(yRad)).Mul(sdf.RotateX(xRad))
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// ToMesh tessellates a solid with marching cubes. A solid with no volume
// yields an empty mesh.
func (k *SdfxKernel) ToMesh(s kernel.Solid, header string) (m stl.Mesh, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sdfx: tessellate: %v", r)
		}
	}()

	renderer := render.NewMarchingCubesUniform(k.cells)
	triangles := render.ToTriangles(unwrap(s), renderer)

	tris := make([]stl.Triangle, 0, len(triangles))
	for _, tri := range triangles {
		var t stl.Triangle
		for j := 0; j < 3; j++ {
			v := tri[j]
			t[j] = stl.Vertex{float32(v.X), float32(v.Y), float32(v.Z)}
		}
		tris = append(tris, t)
	}
	return stl.NewMesh(header, tris), nil
}
