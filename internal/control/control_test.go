package control

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/NodePath81/pswitch/internal/config"
)

type fakeSwitch struct {
	mu      sync.Mutex
	depths  map[int]int
	rates   map[int]float64
	allN    int
	allRate float64
	elapsed uint64
	epoch   uint64
}

func newFakeSwitch() *fakeSwitch {
	return &fakeSwitch{depths: map[int]int{1: 0, 2: 0}, rates: map[int]float64{}}
}

func (f *fakeSwitch) SetEgressQueueDepth(port, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depths[port] = n
}
func (f *fakeSwitch) SetAllEgressQueueDepths(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allN = n
}
func (f *fakeSwitch) SetEgressQueueRate(port int, pps float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[port] = pps
}
func (f *fakeSwitch) SetAllEgressQueueRates(pps float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allRate = pps
}
func (f *fakeSwitch) GetTimeElapsedUs() uint64    { return f.elapsed }
func (f *fakeSwitch) GetTimeSinceEpochUs() uint64 { return f.epoch }
func (f *fakeSwitch) Ports() []int                { return []int{1, 2} }
func (f *fakeSwitch) EgressQueueDepth(port int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depths[port]
}

func rpcCall(t *testing.T, s *Server, method string, params interface{}, token string) rpcResponse {
	t.Helper()
	body, _ := json.Marshal(rpcRequest{Method: method, Params: mustMarshal(t, params)})
	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return resp
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestSetEgressQueueDepth(t *testing.T) {
	sw := newFakeSwitch()
	s := NewServer(config.ControlConfig{}, "test-host", sw, nil)
	resp := rpcCall(t, s, "SetEgressQueueDepth", portParams{Port: 1, N: 42}, "")
	if !resp.Ok {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if sw.EgressQueueDepth(1) != 42 {
		t.Fatalf("depth = %d, want 42", sw.EgressQueueDepth(1))
	}
}

func TestSetAllEgressQueueRates(t *testing.T) {
	sw := newFakeSwitch()
	s := NewServer(config.ControlConfig{}, "test-host", sw, nil)
	resp := rpcCall(t, s, "SetAllEgressQueueRates", portParams{PPS: 500}, "")
	if !resp.Ok || sw.allRate != 500 {
		t.Fatalf("unexpected state: resp=%+v allRate=%v", resp, sw.allRate)
	}
}

func TestGetTimeElapsedUs(t *testing.T) {
	sw := newFakeSwitch()
	sw.elapsed = 12345
	s := NewServer(config.ControlConfig{}, "test-host", sw, nil)
	resp := rpcCall(t, s, "GetTimeElapsedUs", portParams{}, "")
	if !resp.Ok {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if got, want := resp.Result.(float64), float64(12345); got != want {
		t.Fatalf("GetTimeElapsedUs = %v, want %v", got, want)
	}
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	sw := newFakeSwitch()
	s := NewServer(config.ControlConfig{Token: "secret"}, "test-host", sw, nil)
	resp := rpcCall(t, s, "GetTimeElapsedUs", portParams{}, "")
	if resp.Ok {
		t.Fatal("expected unauthorized without a token")
	}
}

func TestAuthorizedWithCorrectToken(t *testing.T) {
	sw := newFakeSwitch()
	s := NewServer(config.ControlConfig{Token: "secret"}, "test-host", sw, nil)
	resp := rpcCall(t, s, "GetTimeSinceEpochUs", portParams{}, "secret")
	if !resp.Ok {
		t.Fatalf("expected ok with correct token, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	sw := newFakeSwitch()
	s := NewServer(config.ControlConfig{}, "test-host", sw, nil)
	resp := rpcCall(t, s, "Bogus", portParams{}, "")
	if resp.Ok {
		t.Fatal("expected unknown method to fail")
	}
}
