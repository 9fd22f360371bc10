package rpcserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spectrum-awg-host/pkg/awg"
	"spectrum-awg-host/pkg/intent"
)

// Client is a synchronous JSON-RPC client over one WebSocket connection.
// Calls are serialized; the rearrangement loop issues one hotswap at a
// time anyway.
type Client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	nextID int64
}

// CallError is a JSON-RPC error returned by the server, with the driver's
// structured fields when the failure came from the driver.
type CallError struct {
	Code       int
	Message    string
	DriverCode string
	Segment    string
}

func (e *CallError) Error() string {
	if e.DriverCode != "" {
		return fmt.Sprintf("rpc error %d [%s]: %s", e.Code, e.DriverCode, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Dial connects to an AWG host at host:port.
func Dial(addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/websocket"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Call performs one request/response round trip. result may be nil.
func (c *Client) Call(method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      id,
	}
	if params != nil {
		req["params"] = params
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	// A compile of a large program can take a while on the server side.
	c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	for {
		var resp struct {
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int           `json:"code"`
				Message string        `json:"message"`
				Data    *rpcErrorData `json:"data"`
			} `json:"error"`
			ID any `json:"id"`
		}
		if err := c.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("call %s: %w", method, err)
		}
		// Skip anything that is not the answer to this call.
		if respID, ok := resp.ID.(float64); !ok || int64(respID) != id {
			continue
		}
		if resp.Error != nil {
			ce := &CallError{Code: resp.Error.Code, Message: resp.Error.Message}
			if resp.Error.Data != nil {
				ce.DriverCode = resp.Error.Data.DriverCode
				ce.Segment = resp.Error.Data.Segment
			}
			return ce
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("call %s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

// Ping checks host liveness.
func (c *Client) Ping() error {
	var ok bool
	if err := c.Call("ping", nil, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("host answered ping with false")
	}
	return nil
}

// PrintCardInfo asks the host to report (and log) the card identity.
func (c *Client) PrintCardInfo() (product, status string, err error) {
	var res struct {
		Product string `json:"product"`
		Status  string `json:"status"`
	}
	if err := c.Call("print_card_info", nil, &res); err != nil {
		return "", "", err
	}
	return res.Product, res.Status, nil
}

// CompileUpload sends an intent program for full compile-and-upload and
// returns the program digest the host installed (or found resident).
func (c *Client) CompileUpload(program *intent.Program, force bool) (string, error) {
	data, err := program.Encode()
	if err != nil {
		return "", err
	}
	params := compileUploadParams{
		Program: base64.StdEncoding.EncodeToString(data),
		Force:   force,
	}
	var res struct {
		Hash string `json:"hash"`
	}
	if err := c.Call("plan_phase_compile_upload", params, &res); err != nil {
		return "", err
	}
	return res.Hash, nil
}

// CompileUploadPreset uploads a host-side preset program by name.
func (c *Client) CompileUploadPreset(name string, force bool) (string, error) {
	var res struct {
		Hash string `json:"hash"`
	}
	err := c.Call("plan_phase_compile_upload", compileUploadParams{Preset: name, Force: force}, &res)
	if err != nil {
		return "", err
	}
	return res.Hash, nil
}

// HotswapRemapSrc patches the remap source indices of one segment.
func (c *Client) HotswapRemapSrc(segment, channel string, src []int) error {
	return c.Call("hotswap_remap_src", hotswapParams{Segment: segment, Channel: channel, Src: src}, nil)
}

// CurrentStep reads the live sequencer step.
func (c *Client) CurrentStep() (int, error) {
	var step int
	if err := c.Call("get_current_step", nil, &step); err != nil {
		return 0, err
	}
	return step, nil
}

// StopStartCard restarts playback from the entry step.
func (c *Client) StopStartCard() error {
	return c.Call("stop_start_card", nil, nil)
}

// CloseCard releases the card on the host.
func (c *Client) CloseCard() error {
	return c.Call("close_card", nil, nil)
}

// GetStatus fetches the driver status snapshot.
func (c *Client) GetStatus() (awg.Status, error) {
	var st awg.Status
	if err := c.Call("get_status", nil, &st); err != nil {
		return awg.Status{}, err
	}
	return st, nil
}
