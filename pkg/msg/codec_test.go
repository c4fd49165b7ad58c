package msg

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/lispcad/pkg/stl"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		wire string
	}{
		{"request code", RequestCode{Path: "/tmp/a.lisp"}, `{"t":"RequestCode","c":"/tmp/a.lisp","i":"x"}`},
		{"request eval", RequestEval{}, `{"t":"RequestEval","i":"x"}`},
		{"save stl", SaveStlFile{MeshID: 7, Path: "out.stl"}, `{"t":"SaveStlFile","c":[7,"out.stl"],"i":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := EncodeRequest(tt.req, "x")
			if string(b) != tt.wire {
				t.Errorf("EncodeRequest = %s, want %s", b, tt.wire)
			}
			got, corr, err := DecodeRequest(b)
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if corr != "x" {
				t.Errorf("correlation = %q, want %q", corr, "x")
			}
			if !reflect.DeepEqual(got, tt.req) {
				t.Errorf("DecodeRequest = %#v, want %#v", got, tt.req)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []Response{
		Code{Text: "(preview (box 1 2 3))"},
		Code{Text: ""},
		EvalError{Message: "Undefined symbol: foo"},
		SaveStlFileOk{Message: "Successfully saved to out.stl"},
		SaveStlFileError{Message: "Model ID 4 not found"},
		EvalOk{
			Previews: []MeshID{2, 1},
			Polys:    map[MeshID][]byte{1: {1, 2, 3}, 2: {}},
			Value:    "10",
		},
	}
	for _, resp := range tests {
		t.Run(string(resp.ResponseTag()), func(t *testing.T) {
			got, corr, err := DecodeResponse(EncodeResponse(resp, ""))
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			if corr != "" {
				t.Errorf("unexpected correlation %q", corr)
			}
			if !reflect.DeepEqual(got, resp) {
				t.Errorf("got %#v, want %#v", got, resp)
			}
		})
	}
}

func TestEncodeEvalOkIsDeterministic(t *testing.T) {
	r := EvalOk{
		Previews: []MeshID{3, 1, 3},
		Polys:    map[MeshID][]byte{3: []byte("c"), 1: []byte("a"), 2: []byte("b")},
		Value:    "nil",
	}
	want := `{"t":"EvalOk","c":{"value":"nil","polys":[[1,"YQ=="],[2,"Yg=="],[3,"Yw=="]],"previews":[3,1]}}`
	for i := 0; i < 10; i++ {
		if got := string(EncodeResponse(r, "")); got != want {
			t.Fatalf("EncodeResponse = %s, want %s", got, want)
		}
	}
}

func TestEncodeEvalOkEmpty(t *testing.T) {
	got := string(EncodeResponse(EvalOk{}, ""))
	want := `{"t":"EvalOk","c":{"value":"","polys":[],"previews":[]}}`
	if got != want {
		t.Errorf("EncodeResponse = %s, want %s", got, want)
	}
}

func TestDecodeRequestSchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"not json", `{"t":`},
		{"trailing garbage", `{"t":"RequestEval"} x`},
		{"array frame", `["RequestEval"]`},
		{"missing tag", `{"c":"a"}`},
		{"numeric tag", `{"t":1}`},
		{"unknown tag", `{"t":"Reboot"}`},
		{"response tag", `{"t":"Code","c":"x"}`},
		{"unknown field", `{"t":"RequestEval","x":1}`},
		{"code missing path", `{"t":"RequestCode"}`},
		{"code null path", `{"t":"RequestCode","c":null}`},
		{"code numeric path", `{"t":"RequestCode","c":12}`},
		{"eval with content", `{"t":"RequestEval","c":"x"}`},
		{"save missing content", `{"t":"SaveStlFile"}`},
		{"save one element", `{"t":"SaveStlFile","c":[1]}`},
		{"save three elements", `{"t":"SaveStlFile","c":[1,"a","b"]}`},
		{"save negative id", `{"t":"SaveStlFile","c":[-1,"a"]}`},
		{"save fractional id", `{"t":"SaveStlFile","c":[1.5,"a"]}`},
		{"save string id", `{"t":"SaveStlFile","c":["1","a"]}`},
		{"save null path", `{"t":"SaveStlFile","c":[1,null]}`},
		{"numeric correlation", `{"t":"RequestEval","i":5}`},
		{"save exponent id", `{"t":"SaveStlFile","c":[1e2,"a"]}`},
		{"save exponent integral id", `{"t":"SaveStlFile","c":[3e0,"a"]}`},
		{"save id 2^64", `{"t":"SaveStlFile","c":[18446744073709551616,"a"]}`},
		{"save id 2^64+1", `{"t":"SaveStlFile","c":[18446744073709551617,"a"]}`},
		{"save leading zero id", `{"t":"SaveStlFile","c":[07,"a"]}`},
		{"save trailing point id", `{"t":"SaveStlFile","c":[7.0,"a"]}`},
		{"upper case keys", `{"T":"RequestCode","C":"x"}`},
		{"mixed case tag key", `{"T":"RequestEval"}`},
		{"duplicate tag", `{"t":"RequestEval","t":"RequestCode","c":"x"}`},
		{"duplicate content", `{"t":"RequestCode","c":"a","c":"b"}`},
		{"duplicate correlation", `{"t":"RequestEval","i":"a","i":"b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _, err := DecodeRequest([]byte(tt.wire))
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatalf("expected ErrSchemaMismatch, got %v", err)
			}
			if req != nil {
				t.Errorf("expected nil request on failure, got %#v", req)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestDecodeResponseSchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"unknown tag", `{"t":"StlBytes","c":[1,2]}`},
		{"request tag", `{"t":"RequestEval"}`},
		{"code missing text", `{"t":"Code"}`},
		{"error object payload", `{"t":"EvalError","c":{"message":"x"}}`},
		{"evalok missing content", `{"t":"EvalOk"}`},
		{"evalok string content", `{"t":"EvalOk","c":"10"}`},
		{"evalok missing value", `{"t":"EvalOk","c":{"polys":[],"previews":[]}}`},
		{"evalok missing polys", `{"t":"EvalOk","c":{"value":"1","previews":[]}}`},
		{"evalok missing previews", `{"t":"EvalOk","c":{"value":"1","polys":[]}}`},
		{"evalok extra field", `{"t":"EvalOk","c":{"value":"1","polys":[],"previews":[],"x":0}}`},
		{"evalok poly not pair", `{"t":"EvalOk","c":{"value":"1","polys":[[1]],"previews":[]}}`},
		{"evalok poly bad base64", `{"t":"EvalOk","c":{"value":"1","polys":[[1,"!!"]],"previews":[]}}`},
		{"evalok poly null bytes", `{"t":"EvalOk","c":{"value":"1","polys":[[1,null]],"previews":[]}}`},
		{"evalok poly negative id", `{"t":"EvalOk","c":{"value":"1","polys":[[-2,""]],"previews":[]}}`},
		{"evalok preview string id", `{"t":"EvalOk","c":{"value":"1","polys":[],"previews":["1"]}}`},
		{"evalok preview id wraps", `{"t":"EvalOk","c":{"value":"1","polys":[[1,""]],"previews":[18446744073709551617]}}`},
		{"evalok preview exponent id", `{"t":"EvalOk","c":{"value":"1","polys":[[1,""]],"previews":[1e0]}}`},
		{"evalok poly id too large", `{"t":"EvalOk","c":{"value":"1","polys":[[18446744073709551616,""]],"previews":[]}}`},
		{"evalok poly exponent id", `{"t":"EvalOk","c":{"value":"1","polys":[[1e2,""]],"previews":[]}}`},
		{"upper case keys", `{"T":"Code","C":"x"}`},
		{"duplicate tag", `{"t":"Code","t":"EvalError","c":"x"}`},
		{"evalok upper case value", `{"t":"EvalOk","c":{"Value":"1","polys":[],"previews":[]}}`},
		{"evalok upper case polys", `{"t":"EvalOk","c":{"value":"1","POLYS":[],"previews":[]}}`},
		{"evalok duplicate value", `{"t":"EvalOk","c":{"value":"1","value":"2","polys":[],"previews":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _, err := DecodeResponse([]byte(tt.wire))
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatalf("expected ErrSchemaMismatch, got %v", err)
			}
			if resp != nil {
				t.Errorf("expected nil response on failure, got %#v", resp)
			}
		})
	}
}

func TestDecodeMeshIDBounds(t *testing.T) {
	req, _, err := DecodeRequest([]byte(`{"t":"SaveStlFile","c":[18446744073709551615,"a"]}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got := req.(SaveStlFile).MeshID; got != MeshID(^uint64(0)) {
		t.Errorf("MeshID = %d, want max uint64", got)
	}

	req, _, err = DecodeRequest([]byte(`{"t":"SaveStlFile","c":[0,"a"]}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got := req.(SaveStlFile).MeshID; got != 0 {
		t.Errorf("MeshID = %d, want 0", got)
	}
}

func TestDecodeAcceptsKeysInAnyOrder(t *testing.T) {
	resp, corr, err := DecodeResponse([]byte(`{"i":"k","c":{"previews":[2],"polys":[[2,""]],"value":"v"},"t":"EvalOk"}`))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	ok := resp.(EvalOk)
	if corr != "k" || ok.Value != "v" || len(ok.Previews) != 1 || ok.Previews[0] != 2 {
		t.Errorf("decoded %#v corr %q", ok, corr)
	}
}

func TestDecodeEvalOkDanglingReference(t *testing.T) {
	wire := `{"t":"EvalOk","c":{"value":"1","polys":[[1,""]],"previews":[1,2]}}`
	_, _, err := DecodeResponse([]byte(wire))
	if !errors.Is(err, ErrDanglingMeshReference) {
		t.Fatalf("expected ErrDanglingMeshReference, got %v", err)
	}
	if errors.Is(err, ErrSchemaMismatch) {
		t.Error("dangling reference should not be reported as a schema mismatch")
	}
	if !strings.Contains(err.Error(), "mesh 2") {
		t.Errorf("error should name the missing mesh, got %q", err)
	}
}

func TestDecodeEvalOkDuplicateMeshID(t *testing.T) {
	wire := `{"t":"EvalOk","c":{"value":"1","polys":[[1,""],[1,"AA=="]],"previews":[1]}}`
	_, _, err := DecodeResponse([]byte(wire))
	if !errors.Is(err, ErrDuplicateMeshID) {
		t.Fatalf("expected ErrDuplicateMeshID, got %v", err)
	}
}

func TestDecodeEvalOkDuplicatePreviewsCollapse(t *testing.T) {
	wire := `{"t":"EvalOk","c":{"value":"1","polys":[[1,""],[2,""]],"previews":[2,1,2]}}`
	resp, _, err := DecodeResponse([]byte(wire))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	got := resp.(EvalOk).Previews
	if !reflect.DeepEqual(got, []MeshID{2, 1}) {
		t.Errorf("previews = %v, want [2 1]", got)
	}
}

func TestDecodeAcceptsNullContentForEval(t *testing.T) {
	req, corr, err := DecodeRequest([]byte(`{"t":"RequestEval","c":null,"i":"abc"}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if _, ok := req.(RequestEval); !ok {
		t.Errorf("got %#v, want RequestEval", req)
	}
	if corr != "abc" {
		t.Errorf("correlation = %q", corr)
	}
}

func TestEvalOkTwoPreviewsDecodeIndependently(t *testing.T) {
	good := stl.NewMesh("a", []stl.Triangle{{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}})
	resp := EvalOk{
		Previews: []MeshID{1, 2},
		Polys: map[MeshID][]byte{
			1: stl.Encode(good),
			2: []byte("truncated"),
		},
		Value: "10",
	}
	decoded, _, err := DecodeResponse(EncodeResponse(resp, ""))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	ok := decoded.(EvalOk)

	m, err := ok.Mesh(1)
	if err != nil {
		t.Fatalf("Mesh(1): %v", err)
	}
	if !m.Equal(good) {
		t.Error("mesh 1 does not match the encoded mesh")
	}

	_, err = ok.Mesh(2)
	if !errors.Is(err, stl.ErrTruncatedInput) {
		t.Fatalf("Mesh(2): expected ErrTruncatedInput, got %v", err)
	}
	var me *MeshError
	if !errors.As(err, &me) || me.ID != 2 {
		t.Errorf("expected *MeshError for id 2, got %v", err)
	}

	if _, err := ok.Mesh(99); !errors.Is(err, ErrUnknownMesh) {
		t.Errorf("Mesh(99): expected ErrUnknownMesh, got %v", err)
	}
}
