// Package control implements the switch's HTTP+websocket control surface:
// remote access to the queue-depth/rate control-surface operations
// (spec.md §6) plus a live per-port queue-depth feed, grounded on the
// teacher's ControlServer (bearer-token RPC, rate-limited, websocket
// status push).
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NodePath81/pswitch/internal/config"
	"github.com/NodePath81/pswitch/internal/util"
	"github.com/NodePath81/pswitch/internal/version"
	"github.com/gorilla/websocket"
)

const (
	maxRPCBodyBytes  = 1 << 16
	rpcRatePerSecond = 5
	rpcRateBurst     = 10
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	wsPushInterval   = time.Second
)

// SwitchControl is the subset of *app.Switch the control surface drives.
// Declared here (rather than imported from internal/app) so control has no
// dependency on the dataplane/app wiring, only on the operations spec.md
// §6 names.
type SwitchControl interface {
	SetEgressQueueDepth(port, n int)
	SetAllEgressQueueDepths(n int)
	SetEgressQueueRate(port int, pps float64)
	SetAllEgressQueueRates(pps float64)
	GetTimeElapsedUs() uint64
	GetTimeSinceEpochUs() uint64
	Ports() []int
	EgressQueueDepth(port int) int
}

// Server is the control surface's HTTP server.
type Server struct {
	cfg      config.ControlConfig
	hostname string
	sw       SwitchControl
	logger   util.Logger

	server  *http.Server
	limiter *rateLimiter
}

// NewServer constructs a control Server bound to sw. It does not start
// listening until Start is called.
func NewServer(cfg config.ControlConfig, hostname string, sw SwitchControl, logger util.Logger) *Server {
	return &Server{
		cfg:      cfg,
		hostname: hostname,
		sw:       sw,
		logger:   logger,
		limiter:  newRateLimiter(rpcRatePerSecond, rpcRateBurst, 5*time.Minute),
	}
}

// Start launches the HTTP listener in the background and returns once it
// has been scheduled; ctx's cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/identity", s.handleIdentity)
	if s.cfg.WebSocketEnabled {
		mux.HandleFunc("/status", s.handleStatus)
	}

	addr := util.NetJoin(s.cfg.Addr, s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		timeout := s.cfg.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.warn("control server error", "error", err)
		}
	}()
	s.info("control server started", "addr", addr)
	return nil
}

// Shutdown gracefully stops the HTTP server now, bounded by the given ctx,
// without waiting for the context passed to Start to be cancelled (used by
// tests and non-context callers).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Ok     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type portParams struct {
	Port int     `json:"port"`
	N    int     `json:"n,omitempty"`
	PPS  float64 `json:"pps,omitempty"`
}

type identityResponse struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, rpcResponse{Ok: false, Error: "rate limit exceeded"})
		return
	}
	if !s.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid json"})
		return
	}

	switch req.Method {
	case "SetEgressQueueDepth":
		var p portParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		s.sw.SetEgressQueueDepth(p.Port, p.N)
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	case "SetAllEgressQueueDepths":
		var p portParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		s.sw.SetAllEgressQueueDepths(p.N)
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	case "SetEgressQueueRate":
		var p portParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		s.sw.SetEgressQueueRate(p.Port, p.PPS)
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	case "SetAllEgressQueueRates":
		var p portParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		s.sw.SetAllEgressQueueRates(p.PPS)
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	case "GetTimeElapsedUs":
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: s.sw.GetTimeElapsedUs()})
	case "GetTimeSinceEpochUs":
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: s.sw.GetTimeSinceEpochUs()})
	default:
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "unknown method"})
	}
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: identityResponse{
		Hostname: s.hostname,
		Version:  version.Version,
	}})
}

// queueDepthSnapshot is pushed periodically to every connected websocket
// client: the live per-port queue depth, distinct from the in-core
// queueing_metadata the forwarding program itself reads.
type queueDepthSnapshot struct {
	Type   string      `json:"type"`
	Depths map[int]int `json:"depths"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()
	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ticker.C:
			depths := make(map[int]int)
			for _, port := range s.sw.Ports() {
				depths[port] = s.sw.EgressQueueDepth(port)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(queueDepthSnapshot{Type: "queue_depth", Depths: depths}); err != nil {
				return
			}
		}
	}
}

func (s *Server) checkAuth(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := strings.TrimPrefix(auth, prefix)
	return len(token) == len(s.cfg.Token) && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

// rateLimiter is a per-client token bucket guarding the RPC endpoint,
// grounded on the same shape as internal/queue's port-level token bucket
// but keyed by client address instead of by port.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    float64
	burst   float64
	ttl     time.Duration
}

type clientLimiter struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rate float64, burst int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate,
		burst:   float64(burst),
		ttl:     ttl,
	}
}

func (rl *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter := rl.clients[key]
	if limiter != nil && now.Sub(limiter.last) > rl.ttl {
		delete(rl.clients, key)
		limiter = nil
	}
	if limiter == nil {
		rl.clients[key] = &clientLimiter{tokens: rl.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(limiter.last).Seconds()
	limiter.tokens = minFloat(rl.burst, limiter.tokens+elapsed*rl.rate)
	limiter.last = now
	if limiter.tokens < 1 {
		return false
	}
	limiter.tokens--
	return true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
