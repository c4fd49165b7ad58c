package engine

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/lispcad/pkg/kernel"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms lispcad source code before passing it to
// zygomys. It performs three transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: load-stl -> load_stl
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
//  3. Line comments: ; and ;; become //.
//
// All transformations respect string literal boundaries.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

const (
	kindSolid = "solid"
	kindMesh  = "mesh"
)

// sexpModel is a reference to a model in the evaluation's model table.
type sexpModel struct {
	id   ModelID
	kind string
}

func (m *sexpModel) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s %d)", m.kind, m.id)
}
func (m *sexpModel) Type() *zygo.RegisteredType { return nil }

// sexpProfile is a closed 2D sketch. Profiles are not models: they cannot
// be previewed, only extruded.
type sexpProfile struct {
	p    kernel.Profile
	desc string
}

func (p *sexpProfile) SexpString(ps *zygo.PrintState) string {
	return "(profile " + p.desc + ")"
}
func (p *sexpProfile) Type() *zygo.RegisteredType { return nil }

// vec3 is a point or offset.
type vec3 struct {
	X, Y, Z float64
}

// sexpVec3 wraps a vec3.
type sexpVec3 struct {
	vec vec3
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// number returns the keyword argument kw if present, else positional
// argument i. Missing arguments are an error.
func (pa kwArgs) number(i int, kw string) (float64, error) {
	if v, ok := pa.kw[kw]; ok {
		return toFloat64(v)
	}
	if i < len(pa.positional) {
		return toFloat64(pa.positional[i])
	}
	return 0, fmt.Errorf("missing %s", kw)
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toModel extracts a model reference.
func toModel(s zygo.Sexp) (*sexpModel, error) {
	if m, ok := s.(*sexpModel); ok {
		return m, nil
	}
	return nil, fmt.Errorf("expected solid or mesh model, got %T (%s)", s, s.SexpString(nil))
}

// toProfile extracts a sketch profile.
func toProfile(s zygo.Sexp) (*sexpProfile, error) {
	if p, ok := s.(*sexpProfile); ok {
		return p, nil
	}
	return nil, fmt.Errorf("expected profile, got %T (%s)", s, s.SexpString(nil))
}

// toPoint reads a point made by p or vec3.
func toPoint(s zygo.Sexp) (vec3, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return vec3{}, fmt.Errorf("expected point, got %T (%s)", s, s.SexpString(nil))
}

// toVec3 reads either a single (vec3 x y z) or three numbers starting at i.
func toVec3(args []zygo.Sexp, i int) (vec3, error) {
	if i < len(args) {
		if v, ok := args[i].(*sexpVec3); ok {
			return v.vec, nil
		}
	}
	if len(args) < i+3 {
		return vec3{}, fmt.Errorf("expected vec3 or x y z")
	}
	var xyz [3]float64
	for j := range xyz {
		f, err := toFloat64(args[i+j])
		if err != nil {
			return vec3{}, fmt.Errorf("%c: %w", "xyz"[j], err)
		}
		xyz[j] = f
	}
	return vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// operands flattens boolean operands: (union a b c) or (union (list a b c)).
func operands(args []zygo.Sexp) ([]zygo.Sexp, error) {
	if len(args) == 1 {
		if _, isModel := args[0].(*sexpModel); !isModel {
			return sexpListToSlice(args[0])
		}
	}
	return args, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the CAD builtins into a zygomys environment.
// Models they create are recorded in st.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens and kebab-case names are recognizable.
func registerBuiltins(env *zygo.Zlisp, st *evalState) {
	k := st.e.k
	add := func(name string, f func(*zygo.Zlisp, string, []zygo.Sexp) (zygo.Sexp, error)) {
		env.AddFunction(name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if st.halted.Load() {
				return zygo.SexpNull, errHalted
			}
			return f(env, name, args)
		})
	}

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	add("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		v, err := toVec3(args, 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: %w", err)
		}
		return &sexpVec3{vec: v}, nil
	})

	// -----------------------------------------------------------------------
	// (p x y) or (p x y z); z defaults to 0.
	// -----------------------------------------------------------------------
	add("p", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 && len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("p requires 2 or 3 arguments, got %d", len(args))
		}
		var xyz [3]float64
		for i, a := range args {
			f, err := toFloat64(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("p: %c: %w", "xyz"[i], err)
			}
			xyz[i] = f
		}
		return &sexpVec3{vec: vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}}, nil
	})

	// -----------------------------------------------------------------------
	// (circle x y radius) is a disc in the XY plane.
	// -----------------------------------------------------------------------
	add("circle", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("circle requires exactly 3 arguments, got %d", len(args))
		}
		var xyr [3]float64
		for i, kw := range []string{"x", "y", "radius"} {
			f, err := toFloat64(args[i])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("circle: %s: %w", kw, err)
			}
			xyr[i] = f
		}
		c, err := k.Circle(xyr[0], xyr[1], xyr[2])
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpProfile{p: c, desc: "circle"}, nil
	})

	// -----------------------------------------------------------------------
	// (turtle start move1 move2 ...) starts at an absolute point and walks
	// by relative moves; the outline closes back to the start.
	// -----------------------------------------------------------------------
	add("turtle", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 3 {
			return zygo.SexpNull, fmt.Errorf("turtle requires at least 3 points, got %d", len(args))
		}
		var cur vec3
		outline := make([][2]float64, 0, len(args))
		for i, a := range args {
			step, err := toPoint(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("turtle: point %d: %w", i+1, err)
			}
			if step.Z != 0 {
				return zygo.SexpNull, fmt.Errorf("turtle: point %d: sketches lie in the XY plane, got z %g", i+1, step.Z)
			}
			cur.X += step.X
			cur.Y += step.Y
			outline = append(outline, [2]float64{cur.X, cur.Y})
		}
		poly, err := k.Polygon(outline)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("turtle: %w", err)
		}
		return &sexpProfile{p: poly, desc: fmt.Sprintf("polygon %d", len(outline))}, nil
	})

	// -----------------------------------------------------------------------
	// (linear-extrude profile height) sweeps a profile along Z.
	// -----------------------------------------------------------------------
	add("linear_extrude", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("linear-extrude requires exactly 2 arguments, got %d", len(args))
		}
		prof, err := toProfile(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("linear-extrude: %w", err)
		}
		h, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("linear-extrude: height: %w", err)
		}
		s, err := k.Extrude(prof.p, h)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("linear-extrude: %w", err)
		}
		return st.addSolid(s), nil
	})

	// -----------------------------------------------------------------------
	// (box 10 20 30) or (box :x 10 :y 20 :z 30)
	// -----------------------------------------------------------------------
	add("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		var dims [3]float64
		for i, kw := range []string{"x", "y", "z"} {
			f, err := pa.number(i, kw)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("box: %s: %w", kw, err)
			}
			dims[i] = f
		}
		s, err := k.Box(dims[0], dims[1], dims[2])
		if err != nil {
			return zygo.SexpNull, err
		}
		return st.addSolid(s), nil
	})

	// -----------------------------------------------------------------------
	// (cylinder 10 2) or (cylinder :height 10 :radius 2)
	// -----------------------------------------------------------------------
	add("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		h, err := pa.number(0, "height")
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: height: %w", err)
		}
		r, err := pa.number(1, "radius")
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: radius: %w", err)
		}
		s, err := k.Cylinder(h, r)
		if err != nil {
			return zygo.SexpNull, err
		}
		return st.addSolid(s), nil
	})

	// -----------------------------------------------------------------------
	// (sphere 5) or (sphere :radius 5)
	// -----------------------------------------------------------------------
	add("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r, err := parseArgs(args).number(0, "radius")
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: radius: %w", err)
		}
		s, err := k.Sphere(r)
		if err != nil {
			return zygo.SexpNull, err
		}
		return st.addSolid(s), nil
	})

	// -----------------------------------------------------------------------
	// (union a b ...), (difference a b ...), (intersection a b ...)
	// -----------------------------------------------------------------------
	booleans := map[string]func(a, b kernel.Solid) kernel.Solid{
		"union":        k.Union,
		"difference":   k.Difference,
		"intersection": k.Intersection,
	}
	for opName, op := range booleans {
		add(opName, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			items, err := operands(args)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", opName, err)
			}
			if len(items) < 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires at least 2 solids, got %d", opName, len(items))
			}
			var acc kernel.Solid
			for i, item := range items {
				ref, err := toModel(item)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: operand %d: %w", opName, i+1, err)
				}
				s, err := st.solid(ref)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: operand %d: %w", opName, i+1, err)
				}
				if acc == nil {
					acc = s
					continue
				}
				acc = op(acc, s)
			}
			return st.addSolid(acc), nil
		})
	}

	// -----------------------------------------------------------------------
	// (translate m 10 0 0) or (translate m (vec3 10 0 0))
	// -----------------------------------------------------------------------
	add("translate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 2 {
			return zygo.SexpNull, fmt.Errorf("translate requires a model and an offset")
		}
		ref, err := toModel(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("translate: %w", err)
		}
		s, err := st.solid(ref)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("translate: %w", err)
		}
		v, err := toVec3(args, 1)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("translate: %w", err)
		}
		return st.addSolid(k.Translate(s, v.X, v.Y, v.Z)), nil
	})

	// -----------------------------------------------------------------------
	// (rotate m 0 0 90), (rotate m (vec3 0 0 90)) or (rotate m :z 90)
	// Angles are in degrees.
	// -----------------------------------------------------------------------
	add("rotate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("rotate requires a model")
		}
		ref, err := toModel(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: %w", err)
		}
		s, err := st.solid(ref)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: %w", err)
		}

		var v vec3
		if len(pa.kw) > 0 {
			for kw, dst := range map[string]*float64{"x": &v.X, "y": &v.Y, "z": &v.Z} {
				if arg, ok := pa.kw[kw]; ok {
					f, err := toFloat64(arg)
					if err != nil {
						return zygo.SexpNull, fmt.Errorf("rotate: %s: %w", kw, err)
					}
					*dst = f
				}
			}
		} else {
			v, err = toVec3(pa.positional, 1)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("rotate: %w", err)
			}
		}
		return st.addSolid(k.Rotate(s, v.X, v.Y, v.Z)), nil
	})

	// -----------------------------------------------------------------------
	// (preview m) marks m for display and returns it.
	// -----------------------------------------------------------------------
	add("preview", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("preview requires exactly 1 argument, got %d", len(args))
		}
		ref, err := toModel(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("preview: %w", err)
		}
		if err := st.preview(ref); err != nil {
			return zygo.SexpNull, fmt.Errorf("preview: %w", err)
		}
		return ref, nil
	})

	// -----------------------------------------------------------------------
	// (load-stl "path/to/file.stl")
	// -----------------------------------------------------------------------
	add("load_stl", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("load-stl requires exactly 1 argument, got %d", len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load-stl: path: %w", err)
		}
		ref, err := st.loadSTL(path)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load-stl: %w", err)
		}
		return ref, nil
	})

	// -----------------------------------------------------------------------
	// (triangle-count m) tessellates solids as preview would.
	// -----------------------------------------------------------------------
	add("triangle_count", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("triangle-count requires exactly 1 argument, got %d", len(args))
		}
		ref, err := toModel(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("triangle-count: %w", err)
		}
		mesh, err := st.meshOf(ref.id)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("triangle-count: %w", err)
		}
		return &zygo.SexpInt{Val: int64(mesh.TriangleCount())}, nil
	})
}
