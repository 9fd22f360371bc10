package rpcserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spectrum-awg-host/pkg/awg"
	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/pipeline"
	"spectrum-awg-host/pkg/setup"
	"spectrum-awg-host/pkg/spcm"
)

func testDriver(t *testing.T) *awg.Driver {
	t.Helper()
	spcm.LockDir = t.TempDir()
	card := spcm.NewMockCard(7)
	d, err := awg.New(awg.Config{
		SerialNumber: 7,
		SampleRateHz: 1e6,
		SetupProfile: "AWG_938_CALIB",
	}, setup.NewRegistry(), pipeline.NewSynth(), spcm.MockOpener(card), nil)
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	return d
}

func serverProgram() *intent.Program {
	return &intent.Program{
		Name: "rpc_test",
		Definitions: map[string][]intent.Tone{
			"ladder": {
				{FreqHz: 98e6, Power: 0.3},
				{FreqHz: 102e6, Power: 0.3},
				{FreqHz: 106e6, Power: 0.3},
			},
		},
		Segments: []intent.Segment{
			{
				Name:      "static",
				DurationS: 100e-6,
				Loop:      1,
				Loopable:  true,
				Ops: []intent.ChannelOp{
					{Channel: "H", Kind: intent.OpTones, Tones: []intent.Tone{{FreqHz: 100e6, Power: 0.4}}},
				},
			},
			{
				Name:         "rearrange",
				DurationS:    100e-6,
				Loop:         1,
				TriggerGated: true,
				Next:         "static",
				Ops: []intent.ChannelOp{
					{Channel: "H", Kind: intent.OpRemap, Definition: "ladder", SrcIndices: []int{0, 2}},
				},
			},
		},
	}
}

func postRPC(t *testing.T, s *Server, method string, params any) rpcResponse {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/jsonrpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleJSONRPC(rec, httpReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp rpcResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestPingOverPost(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	resp := postRPC(t, s, "ping", nil)
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	if resp.Result != true {
		t.Fatalf("result = %v, want true", resp.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	resp := postRPC(t, s, "no_such_method", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("error = %+v, want -32601", resp.Error)
	}
}

func TestCompileUploadMissingParams(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	resp := postRPC(t, s, "plan_phase_compile_upload", map[string]any{})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("error = %+v, want -32602", resp.Error)
	}
}

func TestGetStatusOverPost(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	resp := postRPC(t, s, "get_status", nil)
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var st awg.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != "disconnected" || st.SerialNumber != 7 {
		t.Fatalf("status = %+v", st)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer ts.Close()

	client, err := Dial(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	prog := serverProgram()
	hash, err := client.CompileUpload(prog, false)
	if err != nil {
		t.Fatalf("compile upload: %v", err)
	}
	if hash != prog.Digest() {
		t.Fatalf("hash = %s, want %s", hash, prog.Digest())
	}

	st, err := client.GetStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != "uploaded" || st.CurrentHash != hash {
		t.Fatalf("status = %+v", st)
	}

	if err := client.HotswapRemapSrc("rearrange", "H", []int{1, 2}); err != nil {
		t.Fatalf("hotswap: %v", err)
	}
	st, err = client.GetStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CurrentHash == hash {
		t.Fatal("digest unchanged after hotswap")
	}

	if err := client.CloseCard(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWebSocketDriverErrorCarriesCode(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer ts.Close()

	client, err := Dial(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.CompileUpload(serverProgram(), false); err != nil {
		t.Fatalf("compile upload: %v", err)
	}
	// Wrong operand length.
	err = client.HotswapRemapSrc("rearrange", "H", []int{1})
	ce, ok := err.(*CallError)
	if !ok {
		t.Fatalf("got %v, want CallError", err)
	}
	if ce.DriverCode != "SHAPE_MISMATCH" {
		t.Errorf("driver code = %s, want SHAPE_MISMATCH", ce.DriverCode)
	}
	if ce.Segment != "rearrange" {
		t.Errorf("segment = %q, want rearrange", ce.Segment)
	}
}

func TestPresetUpload(t *testing.T) {
	s := New(Config{Driver: testDriver(t)})
	resp := postRPC(t, s, "plan_phase_compile_upload", compileUploadParams{Preset: "no_such_preset"})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("unknown preset: %+v", resp.Error)
	}

	// The built-in rearrangement preset compiles against the default
	// calibrated band of the AWG_938 profile.
	resp = postRPC(t, s, "plan_phase_compile_upload", compileUploadParams{Preset: "rt_spec_analyser_rearr_hotswap"})
	if resp.Error != nil {
		t.Fatalf("preset upload: %+v", resp.Error)
	}
}
