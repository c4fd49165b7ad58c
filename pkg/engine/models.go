package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/kernel"
	"github.com/chazu/lispcad/pkg/stl"
)

// model is either a kernel solid or a mesh. Exactly one field is set.
type model struct {
	solid kernel.Solid
	mesh  *stl.Mesh
}

// evalState is the model table of one evaluation. Builtins run on the
// interpreter goroutine only, so it needs no locking.
type evalState struct {
	e        *Engine
	models   map[ModelID]model
	previews []ModelID
	// tessellated caches solid meshes so previewing and counting share work.
	tessellated map[ModelID]stl.Mesh
	// halted is set once the caller has given up on this evaluation.
	halted atomic.Bool
}

var errHalted = errors.New("evaluation abandoned")

func newEvalState(e *Engine) *evalState {
	return &evalState{
		e:           e,
		models:      make(map[ModelID]model),
		tessellated: make(map[ModelID]stl.Mesh),
	}
}

func (st *evalState) add(m model) *sexpModel {
	id := ModelID(st.e.nextID.Add(1))
	st.models[id] = m
	kind := kindSolid
	if m.mesh != nil {
		kind = kindMesh
	}
	return &sexpModel{id: id, kind: kind}
}

func (st *evalState) addSolid(s kernel.Solid) *sexpModel {
	return st.add(model{solid: s})
}

func (st *evalState) addMesh(m stl.Mesh) *sexpModel {
	return st.add(model{mesh: &m})
}

func (st *evalState) solid(ref *sexpModel) (kernel.Solid, error) {
	m, ok := st.models[ref.id]
	if !ok {
		return nil, fmt.Errorf("unknown model %d", ref.id)
	}
	if m.solid == nil {
		return nil, fmt.Errorf("model %d is a mesh; only solids can be transformed or combined", ref.id)
	}
	return m.solid, nil
}

// preview marks a model for display. A model already previewed keeps its
// original position.
func (st *evalState) preview(ref *sexpModel) error {
	if _, ok := st.models[ref.id]; !ok {
		return fmt.Errorf("unknown model %d", ref.id)
	}
	if !lo.Contains(st.previews, ref.id) {
		st.previews = append(st.previews, ref.id)
	}
	return nil
}

// meshOf returns the mesh for a model, tessellating solids on first use.
func (st *evalState) meshOf(id ModelID) (stl.Mesh, error) {
	m, ok := st.models[id]
	if !ok {
		return stl.Mesh{}, fmt.Errorf("unknown model %d", id)
	}
	if m.mesh != nil {
		return *m.mesh, nil
	}
	if cached, ok := st.tessellated[id]; ok {
		return cached, nil
	}
	mesh, err := st.e.k.ToMesh(m.solid, fmt.Sprintf("lispcad model %d", id))
	if err != nil {
		return stl.Mesh{}, fmt.Errorf("model %d: %w", id, err)
	}
	st.tessellated[id] = mesh
	return mesh, nil
}

// previewMeshes returns exactly the previewed meshes.
func (st *evalState) previewMeshes() (map[ModelID]stl.Mesh, error) {
	out := make(map[ModelID]stl.Mesh, len(st.previews))
	for _, id := range st.previews {
		mesh, err := st.meshOf(id)
		if err != nil {
			return nil, err
		}
		out[id] = mesh
	}
	return out, nil
}

// loadSTL reads a binary STL file into a new mesh model.
func (st *evalState) loadSTL(path string) (*sexpModel, error) {
	if !st.e.fileLoad {
		return nil, fmt.Errorf("file access is disabled")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mesh, err := stl.Decode(data)
	if err != nil {
		st.e.metrics.Mesh("decode", metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	st.e.metrics.Mesh("decode", metrics.ResultOK)
	return st.addMesh(mesh), nil
}
