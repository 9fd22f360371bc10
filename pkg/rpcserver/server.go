// Package rpcserver exposes the AWG driver over JSON-RPC 2.0, reachable
// both as plain HTTP POST and over a WebSocket connection. Experiment
// control keeps one WebSocket open per card for the rearrangement loop;
// the POST endpoint serves one-shot tooling.
package rpcserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"spectrum-awg-host/pkg/awg"
	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/log"
)

// DriverInterface is the driver surface the server exposes. Implemented
// by *awg.Driver.
type DriverInterface interface {
	Ping() bool
	PrintCardInfo() (product string, status string, err error)
	PlanPhaseCompileUpload(program *intent.Program, force bool) error
	HotswapRemapSrc(segment, channel string, newSrc []int) error
	CurrentStep() (int, error)
	StopStartCard() error
	CloseCard() error
	GetStatus() awg.Status
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g. ":3281").
	Addr string

	Driver DriverInterface
}

// Server serves the driver API. Driver calls are serialized through one
// mutex: the driver itself is not safe for concurrent callers, and the
// hotswap protocol assumes no interleaved uploads.
type Server struct {
	driver     DriverInterface
	driverMu   sync.Mutex
	addr       string
	logger     *log.Logger
	httpServer *http.Server

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.Mutex
	nextWSID   int64

	running   atomic.Bool
	startTime time.Time
}

// New creates a server for the given driver.
func New(cfg Config) *Server {
	s := &Server{
		driver:    cfg.Driver,
		addr:      cfg.Addr,
		logger:    log.GetLogger("rpc"),
		wsClients: make(map[int64]*wsClient),
		startTime: time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Start serves until Stop or a listener error. Blocking.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/server/info", s.handleServerInfo)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	s.running.Store(true)
	s.logger.Info("AWG RPC server listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open WebSocket.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// JSON-RPC 2.0 structures.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data,omitempty"`
}

// rpcErrorData carries the driver's structured error fields so clients
// can branch on the category without parsing the message text.
type rpcErrorData struct {
	DriverCode string `json:"driver_code,omitempty"`
	Segment    string `json:"segment,omitempty"`
}

func driverRPCError(err error) *rpcError {
	e := &rpcError{Code: -32000, Message: err.Error()}
	if code := errors.CodeOf(err); code != "" {
		e.Data = &rpcErrorData{DriverCode: string(code)}
		if de, ok := err.(*errors.DriverError); ok {
			e.Data.Segment = de.Segment
		}
	}
	return e
}

// Method parameter shapes.

type compileUploadParams struct {
	// Program is the base64-encoded CBOR wire form of an intent program.
	Program string `json:"program,omitempty"`

	// Preset names a built-in program instead.
	Preset string `json:"preset,omitempty"`

	Force bool `json:"force,omitempty"`
}

type hotswapParams struct {
	Segment string `json:"segment"`
	Channel string `json:"channel"`
	Src     []int  `json:"src"`
}

// dispatch routes one request to the driver. All driver access funnels
// through here under driverMu.
func (s *Server) dispatch(method string, params json.RawMessage) (any, *rpcError) {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	switch method {
	case "ping":
		return s.driver.Ping(), nil

	case "print_card_info":
		product, status, err := s.driver.PrintCardInfo()
		if err != nil {
			return nil, driverRPCError(err)
		}
		return map[string]any{"product": product, "status": status}, nil

	case "plan_phase_compile_upload":
		var p compileUploadParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		program, rpcErr := decodeProgram(&p)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if err := s.driver.PlanPhaseCompileUpload(program, p.Force); err != nil {
			return nil, driverRPCError(err)
		}
		return map[string]any{"hash": program.Digest()}, nil

	case "hotswap_remap_src":
		var p hotswapParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := s.driver.HotswapRemapSrc(p.Segment, p.Channel, p.Src); err != nil {
			return nil, driverRPCError(err)
		}
		return true, nil

	case "get_current_step":
		step, err := s.driver.CurrentStep()
		if err != nil {
			return nil, driverRPCError(err)
		}
		return step, nil

	case "stop_start_card":
		if err := s.driver.StopStartCard(); err != nil {
			return nil, driverRPCError(err)
		}
		return true, nil

	case "close_card":
		if err := s.driver.CloseCard(); err != nil {
			return nil, driverRPCError(err)
		}
		return true, nil

	case "get_status":
		return s.driver.GetStatus(), nil

	default:
		return nil, &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

func unmarshalParams(raw json.RawMessage, dst any) *rpcError {
	if len(raw) == 0 {
		return &rpcError{Code: -32602, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func decodeProgram(p *compileUploadParams) (*intent.Program, *rpcError) {
	switch {
	case p.Preset != "":
		program, err := intent.Preset(p.Preset)
		if err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		return program, nil
	case p.Program != "":
		data, err := base64.StdEncoding.DecodeString(p.Program)
		if err != nil {
			return nil, &rpcError{Code: -32602, Message: "program is not valid base64: " + err.Error()}
		}
		program, err := intent.Decode(data)
		if err != nil {
			return nil, driverRPCError(err)
		}
		return program, nil
	default:
		return nil, &rpcError{Code: -32602, Message: "either program or preset is required"}
	}
}

// handleJSONRPC serves one-shot JSON-RPC over HTTP POST.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}
	result, rpcErr := s.dispatch(req.Method, req.Params)
	s.writeResponse(w, rpcResponse{JSONRPC: "2.0", Result: result, Error: rpcErr, ID: req.ID})
}

func (s *Server) writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("write response: %v", err)
	}
}

// handleServerInfo is a plain liveness/identity endpoint.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.driverMu.Lock()
	status := s.driver.GetStatus()
	s.driverMu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"result": map[string]any{
			"application": "spectrum-awg-host",
			"uptime_s":    time.Since(s.startTime).Seconds(),
			"driver":      status,
		},
	})
}

// wsClient is one WebSocket connection running the usual two-pump setup:
// readPump dispatches requests, writePump owns all writes to the socket.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade: %v", err)
		return
	}
	client := &wsClient{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, 16),
		done:   make(chan struct{}),
	}
	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()
	s.logger.Info("websocket client %d connected from %s", client.id, r.RemoteAddr)

	go client.writePump()
	client.readPump()
}

func (s *Server) removeClient(client *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	s.wsClientMu.Unlock()
	s.logger.Info("websocket client %d disconnected", client.id)
}

func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()
	c.conn.SetReadLimit(4 * 1024 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read: %v", err)
			}
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.send(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
			continue
		}
		result, rpcErr := c.server.dispatch(req.Method, req.Params)
		c.send(rpcResponse{JSONRPC: "2.0", Result: result, Error: rpcErr, ID: req.ID})
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warn("websocket write: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
