// Package kernel defines the geometry kernel used by the script evaluator.
// Implementations build solids and tessellate them into STL meshes.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/lispcad/pkg/stl"
)

// ErrInvalidDimension is returned for a non-positive or non-finite size.
var ErrInvalidDimension = errors.New("invalid dimension")

// Solid is an opaque handle to a kernel solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Profile is an opaque handle to a closed region in the XY plane.
type Profile interface {
	// BoundingBox returns the axis-aligned bounding rectangle.
	BoundingBox() (min, max [2]float64)
}

// Kernel builds and combines solids.
type Kernel interface {
	// Primitives. Box is centered on the origin; Cylinder runs along Z.
	Box(x, y, z float64) (Solid, error)
	Cylinder(height, radius float64) (Solid, error)
	Sphere(radius float64) (Solid, error)

	// Sketches. Circle is centered on (x, y); Polygon closes itself.
	Circle(x, y, radius float64) (Profile, error)
	Polygon(points [][2]float64) (Profile, error)

	// Extrude sweeps p along Z from 0 to height. A negative height sweeps
	// downward.
	Extrude(p Profile, height float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees

	// ToMesh tessellates s. header becomes the STL header text.
	ToMesh(s Solid, header string) (stl.Mesh, error)
}

// Finite checks that a coordinate is neither NaN nor infinite.
func Finite(op, name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %s must be finite, got %g: %w", op, name, v, ErrInvalidDimension)
	}
	return nil
}

// NonZero checks that a signed size is finite and not zero.
func NonZero(op, name string, v float64) error {
	if err := Finite(op, name, v); err != nil {
		return err
	}
	if v == 0 {
		return fmt.Errorf("%s: %s must not be zero: %w", op, name, ErrInvalidDimension)
	}
	return nil
}

// PolygonArea returns the signed area of a closed polygon (shoelace
// formula). Counter-clockwise polygons have positive area.
func PolygonArea(points [][2]float64) float64 {
	var a float64
	for i, p := range points {
		q := points[(i+1)%len(points)]
		a += p[0]*q[1] - q[0]*p[1]
	}
	return a / 2
}

// Positive checks that a size is finite and greater than zero.
func Positive(op, name string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %s must be positive, got %g: %w", op, name, v, ErrInvalidDimension)
	}
	return nil
}
