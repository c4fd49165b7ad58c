// Package msg defines the messages exchanged between the UI and the native
// host, and their JSON wire encoding.
//
// Every frame is a single JSON object tagged with its variant:
//
//	{"t": "SaveStlFile", "c": [3, "/tmp/part.stl"], "i": "<correlation id>"}
//
// Requests flow from the UI to the host, responses from the host to the UI.
// Both sets are closed: the unexported marker methods keep other packages
// from adding variants.
package msg

import (
	"fmt"

	"github.com/chazu/lispcad/pkg/stl"
)

// Tag is the discriminant stored in the "t" field of a frame.
type Tag string

const (
	TagRequestCode      Tag = "RequestCode"
	TagRequestEval      Tag = "RequestEval"
	TagSaveStlFile      Tag = "SaveStlFile"
	TagCode             Tag = "Code"
	TagEvalOk           Tag = "EvalOk"
	TagEvalError        Tag = "EvalError"
	TagSaveStlFileOk    Tag = "SaveStlFileOk"
	TagSaveStlFileError Tag = "SaveStlFileError"
)

// MeshID correlates a preview slot with its raw mesh bytes inside one
// evaluation response.
type MeshID uint64

// Request is a UI to host message.
type Request interface {
	RequestTag() Tag
	isRequest()
}

// Response is a host to UI message.
type Response interface {
	ResponseTag() Tag
	isResponse()
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// RequestCode asks the host to load the script at Path and send it back.
type RequestCode struct {
	Path string
}

// RequestEval asks the host to evaluate the most recently loaded script.
type RequestEval struct{}

// SaveStlFile asks the host to write mesh MeshID as binary STL to Path.
type SaveStlFile struct {
	MeshID MeshID
	Path   string
}

func (RequestCode) RequestTag() Tag { return TagRequestCode }
func (RequestEval) RequestTag() Tag { return TagRequestEval }
func (SaveStlFile) RequestTag() Tag { return TagSaveStlFile }

func (RequestCode) isRequest() {}
func (RequestEval) isRequest() {}
func (SaveStlFile) isRequest() {}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// Code carries the text of a loaded script.
type Code struct {
	Text string
}

// EvalOk is a successful evaluation.
type EvalOk struct {
	// Previews lists the meshes the script asked to display, in order.
	Previews []MeshID
	// Polys maps mesh ids to binary STL bytes. Bytes are not validated
	// until Mesh is called for that id.
	Polys map[MeshID][]byte
	// Value is the printed result of the last expression.
	Value string
}

// EvalError reports a script failure.
type EvalError struct {
	Message string
}

// SaveStlFileOk reports a successful save.
type SaveStlFileOk struct {
	Message string
}

// SaveStlFileError reports a failed save.
type SaveStlFileError struct {
	Message string
}

func (Code) ResponseTag() Tag             { return TagCode }
func (EvalOk) ResponseTag() Tag           { return TagEvalOk }
func (EvalError) ResponseTag() Tag        { return TagEvalError }
func (SaveStlFileOk) ResponseTag() Tag    { return TagSaveStlFileOk }
func (SaveStlFileError) ResponseTag() Tag { return TagSaveStlFileError }

func (Code) isResponse()             {}
func (EvalOk) isResponse()           {}
func (EvalError) isResponse()        {}
func (SaveStlFileOk) isResponse()    {}
func (SaveStlFileError) isResponse() {}

// MeshError attributes a mesh decode failure to a single mesh id.
type MeshError struct {
	ID  MeshID
	Err error
}

func (e *MeshError) Error() string {
	return fmt.Sprintf("mesh %d: %v", e.ID, e.Err)
}

func (e *MeshError) Unwrap() error { return e.Err }

// Mesh decodes the STL bytes stored for id. Failures are returned as
// *MeshError so that one broken mesh does not affect the others.
func (r EvalOk) Mesh(id MeshID) (stl.Mesh, error) {
	raw, ok := r.Polys[id]
	if !ok {
		return stl.Mesh{}, &MeshError{ID: id, Err: ErrUnknownMesh}
	}
	m, err := stl.Decode(raw)
	if err != nil {
		return stl.Mesh{}, &MeshError{ID: id, Err: err}
	}
	return m, nil
}
