package msg

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/samber/lo"
)

var (
	// ErrSchemaMismatch is returned when a frame is not valid JSON, carries
	// an unknown tag, or its payload does not have the shape its tag requires.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrDanglingMeshReference is returned when an EvalOk preview names a
	// mesh id that has no entry in polys.
	ErrDanglingMeshReference = errors.New("dangling mesh reference")

	// ErrDuplicateMeshID is returned when an EvalOk lists the same mesh id
	// in polys more than once.
	ErrDuplicateMeshID = errors.New("duplicate mesh id")

	// ErrUnknownMesh is returned by EvalOk.Mesh for an id absent from polys.
	ErrUnknownMesh = errors.New("unknown mesh id")
)

// DecodeError describes why a frame was rejected.
type DecodeError struct {
	Tag   Tag    // tag of the frame, empty if it could not be read
	Field string // offending field, e.g. "t", "c", "c.polys[1]"
	Kind  error  // one of the package sentinel errors
	Err   error  // underlying cause, may be nil
}

func (e *DecodeError) Error() string {
	var b bytes.Buffer
	b.WriteString("msg: decode")
	if e.Tag != "" {
		b.WriteString(" " + string(e.Tag))
	}
	if e.Field != "" {
		b.WriteString(": field " + e.Field)
	}
	b.WriteString(": " + e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func mismatch(tag Tag, field string, err error) *DecodeError {
	return &DecodeError{Tag: tag, Field: field, Kind: ErrSchemaMismatch, Err: err}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type outFrame struct {
	T Tag    `json:"t"`
	C any    `json:"c,omitempty"`
	I string `json:"i,omitempty"`
}

type evalOkWire struct {
	Value    string   `json:"value"`
	Polys    [][2]any `json:"polys"`
	Previews []MeshID `json:"previews"`
}

// EncodeRequest returns the wire form of req. corr is the correlation id to
// stamp on the frame; empty omits it.
func EncodeRequest(req Request, corr string) []byte {
	f := outFrame{T: req.RequestTag(), I: corr}
	switch r := req.(type) {
	case RequestCode:
		f.C = r.Path
	case RequestEval:
	case SaveStlFile:
		f.C = [2]any{r.MeshID, r.Path}
	}
	return marshal(f)
}

// EncodeResponse returns the wire form of resp. corr is echoed in the frame
// when non-empty.
func EncodeResponse(resp Response, corr string) []byte {
	f := outFrame{T: resp.ResponseTag(), I: corr}
	switch r := resp.(type) {
	case Code:
		f.C = r.Text
	case EvalOk:
		f.C = encodeEvalOk(r)
	case EvalError:
		f.C = r.Message
	case SaveStlFileOk:
		f.C = r.Message
	case SaveStlFileError:
		f.C = r.Message
	}
	return marshal(f)
}

func encodeEvalOk(r EvalOk) evalOkWire {
	ids := lo.Keys(r.Polys)
	slices.Sort(ids)
	w := evalOkWire{
		Value:    r.Value,
		Polys:    make([][2]any, 0, len(ids)),
		Previews: lo.Uniq(r.Previews),
	}
	if w.Previews == nil {
		w.Previews = []MeshID{}
	}
	for _, id := range ids {
		raw := r.Polys[id]
		if raw == nil {
			raw = []byte{}
		}
		w.Polys = append(w.Polys, [2]any{id, raw})
	}
	return w
}

func marshal(f outFrame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// Every payload is built from strings, integers and byte slices.
		panic(fmt.Sprintf("msg: encode %s: %v", f.T, err))
	}
	return b
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type inFrame struct {
	T *Tag            `json:"t"`
	C json.RawMessage `json:"c"`
	I *string         `json:"i"`
}

type evalOkIn struct {
	Value    *string           `json:"value"`
	Polys    []json.RawMessage `json:"polys"`
	Previews []json.RawMessage `json:"previews"`
}

// strict decodes data into v, rejecting unknown object fields.
func strict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// present reports whether a raw field holds a non-null value.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// checkObject verifies that data is a JSON object whose keys all appear in
// allowed, spelled exactly and each at most once. data must already be
// valid JSON.
func checkObject(tag Tag, field string, data []byte, allowed ...string) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return mismatch(tag, field, err)
	}
	if tok != json.Delim('{') {
		return mismatch(tag, field, errors.New("expected an object"))
	}
	seen := make(map[string]bool, len(allowed))
	for {
		tok, err := dec.Token()
		if err != nil {
			return mismatch(tag, field, err)
		}
		if tok == json.Delim('}') {
			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return mismatch(tag, field, fmt.Errorf("unexpected token %v", tok))
		}
		if !slices.Contains(allowed, key) {
			return mismatch(tag, field, fmt.Errorf("unknown field %q", key))
		}
		if seen[key] {
			return mismatch(tag, field, fmt.Errorf("duplicate field %q", key))
		}
		seen[key] = true
		if err := skipValue(dec); err != nil {
			return mismatch(tag, field, err)
		}
	}
}

// skipValue consumes one complete value from dec.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
		if depth <= 0 {
			return nil
		}
	}
}

func readFrame(data []byte) (Tag, json.RawMessage, string, error) {
	if !json.Valid(data) {
		return "", nil, "", mismatch("", "", errors.New("malformed JSON"))
	}
	if err := checkObject("", "", data, "t", "c", "i"); err != nil {
		return "", nil, "", err
	}
	var f inFrame
	if err := strict(data, &f); err != nil {
		return "", nil, "", mismatch("", "", err)
	}
	if f.T == nil {
		return "", nil, "", mismatch("", "t", errors.New("missing tag"))
	}
	corr := ""
	if f.I != nil {
		corr = *f.I
	}
	return *f.T, f.C, corr, nil
}

// DecodeRequest parses a UI to host frame and returns the request and its
// correlation id.
func DecodeRequest(data []byte) (Request, string, error) {
	tag, c, corr, err := readFrame(data)
	if err != nil {
		return nil, "", err
	}
	switch tag {
	case TagRequestCode:
		path, err := decodeString(tag, c)
		if err != nil {
			return nil, "", err
		}
		return RequestCode{Path: path}, corr, nil
	case TagRequestEval:
		if present(c) {
			return nil, "", mismatch(tag, "c", errors.New("unexpected content"))
		}
		return RequestEval{}, corr, nil
	case TagSaveStlFile:
		id, path, err := decodeIDPath(tag, c)
		if err != nil {
			return nil, "", err
		}
		return SaveStlFile{MeshID: id, Path: path}, corr, nil
	}
	return nil, "", mismatch(tag, "t", fmt.Errorf("unknown request tag %q", tag))
}

// DecodeResponse parses a host to UI frame and returns the response and
// its correlation id.
func DecodeResponse(data []byte) (Response, string, error) {
	tag, c, corr, err := readFrame(data)
	if err != nil {
		return nil, "", err
	}
	switch tag {
	case TagCode, TagEvalError, TagSaveStlFileOk, TagSaveStlFileError:
		s, err := decodeString(tag, c)
		if err != nil {
			return nil, "", err
		}
		switch tag {
		case TagCode:
			return Code{Text: s}, corr, nil
		case TagEvalError:
			return EvalError{Message: s}, corr, nil
		case TagSaveStlFileOk:
			return SaveStlFileOk{Message: s}, corr, nil
		default:
			return SaveStlFileError{Message: s}, corr, nil
		}
	case TagEvalOk:
		r, err := decodeEvalOk(c)
		if err != nil {
			return nil, "", err
		}
		return r, corr, nil
	}
	return nil, "", mismatch(tag, "t", fmt.Errorf("unknown response tag %q", tag))
}

func decodeString(tag Tag, c json.RawMessage) (string, error) {
	if !present(c) {
		return "", mismatch(tag, "c", errors.New("missing content"))
	}
	var s string
	if err := strict(c, &s); err != nil {
		return "", mismatch(tag, "c", err)
	}
	return s, nil
}

// meshIDPattern is the only accepted spelling of a mesh id: a plain
// decimal integer without sign, fraction, exponent or leading zeros.
var meshIDPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

func decodeMeshID(tag Tag, field string, raw json.RawMessage) (MeshID, error) {
	if !present(raw) {
		return 0, mismatch(tag, field, errors.New("missing mesh id"))
	}
	text := string(bytes.TrimSpace(raw))
	if !meshIDPattern.MatchString(text) {
		return 0, mismatch(tag, field, fmt.Errorf("mesh id %s is not an unsigned integer", text))
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, mismatch(tag, field, fmt.Errorf("mesh id %s out of range", text))
	}
	return MeshID(n), nil
}

func decodePair(tag Tag, field string, raw json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	if !present(raw) {
		return nil, nil, mismatch(tag, field, errors.New("missing content"))
	}
	var pair []json.RawMessage
	if err := strict(raw, &pair); err != nil {
		return nil, nil, mismatch(tag, field, err)
	}
	if len(pair) != 2 {
		return nil, nil, mismatch(tag, field, fmt.Errorf("expected 2 elements, got %d", len(pair)))
	}
	return pair[0], pair[1], nil
}

func decodeIDPath(tag Tag, c json.RawMessage) (MeshID, string, error) {
	rawID, rawPath, err := decodePair(tag, "c", c)
	if err != nil {
		return 0, "", err
	}
	id, err := decodeMeshID(tag, "c[0]", rawID)
	if err != nil {
		return 0, "", err
	}
	if !present(rawPath) {
		return 0, "", mismatch(tag, "c[1]", errors.New("missing path"))
	}
	var path string
	if err := strict(rawPath, &path); err != nil {
		return 0, "", mismatch(tag, "c[1]", err)
	}
	return id, path, nil
}

func decodeEvalOk(c json.RawMessage) (EvalOk, error) {
	tag := TagEvalOk
	if !present(c) {
		return EvalOk{}, mismatch(tag, "c", errors.New("missing content"))
	}
	if err := checkObject(tag, "c", c, "value", "polys", "previews"); err != nil {
		return EvalOk{}, err
	}
	var in evalOkIn
	if err := strict(c, &in); err != nil {
		return EvalOk{}, mismatch(tag, "c", err)
	}
	if in.Value == nil {
		return EvalOk{}, mismatch(tag, "c.value", errors.New("missing field"))
	}
	if in.Polys == nil {
		return EvalOk{}, mismatch(tag, "c.polys", errors.New("missing field"))
	}
	if in.Previews == nil {
		return EvalOk{}, mismatch(tag, "c.previews", errors.New("missing field"))
	}

	out := EvalOk{
		Value:    *in.Value,
		Polys:    make(map[MeshID][]byte, len(in.Polys)),
	}
	previews := make([]MeshID, 0, len(in.Previews))
	for i, raw := range in.Previews {
		id, err := decodeMeshID(tag, fmt.Sprintf("c.previews[%d]", i), raw)
		if err != nil {
			return EvalOk{}, err
		}
		previews = append(previews, id)
	}
	out.Previews = lo.Uniq(previews)

	for i, raw := range in.Polys {
		field := fmt.Sprintf("c.polys[%d]", i)
		rawID, rawBytes, err := decodePair(tag, field, raw)
		if err != nil {
			return EvalOk{}, err
		}
		id, err := decodeMeshID(tag, field+"[0]", rawID)
		if err != nil {
			return EvalOk{}, err
		}
		if !present(rawBytes) {
			return EvalOk{}, mismatch(tag, field+"[1]", errors.New("missing mesh bytes"))
		}
		var b []byte
		if err := strict(rawBytes, &b); err != nil {
			return EvalOk{}, mismatch(tag, field+"[1]", err)
		}
		if _, dup := out.Polys[id]; dup {
			return EvalOk{}, &DecodeError{Tag: tag, Field: field, Kind: ErrDuplicateMeshID,
				Err: fmt.Errorf("mesh %d listed twice", id)}
		}
		if b == nil {
			b = []byte{}
		}
		out.Polys[id] = b
	}
	for i, id := range out.Previews {
		if _, ok := out.Polys[id]; !ok {
			return EvalOk{}, &DecodeError{Tag: tag, Field: fmt.Sprintf("c.previews[%d]", i),
				Kind: ErrDanglingMeshReference, Err: fmt.Errorf("mesh %d has no bytes", id)}
		}
	}
	return out, nil
}
