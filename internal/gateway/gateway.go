// Package gateway is the local control plane: token-authenticated JSON-RPC
// over websocket, exposing workflow turns and ATO management.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/atohub/internal/ato"
	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/config"
	"github.com/basket/atohub/internal/conversation"
	"github.com/basket/atohub/internal/shared"
	"github.com/basket/atohub/internal/workflow"
)

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603

	// Stable app error taxonomy.
	ErrCodeValidation = 1000
	ErrCodeNotFound   = 1004
	ErrCodeQuota      = 1029
)

// TurnRunner runs one workflow turn. Satisfied by workflow.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, req workflow.Request) (workflow.Response, error)
}

type Config struct {
	Runner   TurnRunner
	Registry *ato.Registry
	Cfg      *config.Config

	BindAddr  string
	AuthToken string
	// AllowOrigins controls accepted Origin headers for browser connections.
	// Empty means same-origin only.
	AllowOrigins []string
}

type Server struct {
	cfg Config

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	httpSrv *http.Server
}

func New(cfg Config) *Server {
	return &Server{cfg: cfg, clients: map[*websocket.Conn]struct{}{}}
}

// Start listens on the configured address until the context ends.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.AuthToken == "" {
		return errors.New("gateway requires an auth token")
	}
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on an existing listener (used by tests).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the mux for httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	s.addClient(conn)
	slog.Info("gateway: client connected")
	defer func() {
		s.removeClient(conn)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var req rpcRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		resp := s.handleRPC(r.Context(), req)
		if resp == nil {
			continue
		}
		if err := wsjson.Write(r.Context(), conn, resp); err != nil {
			slog.Error("gateway: write response failed", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token != "" && token == s.cfg.AuthToken
}

func (s *Server) handleRPC(ctx context.Context, req rpcRequest) *rpcResponse {
	id, hasID := decodeID(req.ID)
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !hasID {
			return nil
		}
		return errResponse(id, ErrCodeInvalidRequest, "invalid JSON-RPC request")
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "workflow.run":
		result, err = s.workflowRun(ctx, req.Params)
	case "ato.create":
		result, err = s.atoCreate(ctx, req.Params)
	case "ato.update":
		result, err = s.atoUpdate(ctx, req.Params)
	case "ato.list":
		result, err = s.atoList(ctx, req.Params)
	case "ato.remove":
		result, err = s.atoRemove(ctx, req.Params)
	case "status":
		result = s.status()
	default:
		if !hasID {
			return nil
		}
		return errResponse(id, ErrCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	if !hasID {
		return nil
	}
	if err != nil {
		return errResponse(id, codeFor(err), err.Error())
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func codeFor(err error) int {
	switch {
	case errors.Is(err, ato.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ato.ErrQuotaExceeded):
		return ErrCodeQuota
	case errors.Is(err, ato.ErrRouteCollision),
		errors.Is(err, ato.ErrRouteInvalid),
		errors.Is(err, ato.ErrInstructionsTooLong),
		errors.Is(err, ato.ErrUnknownTool),
		errors.Is(err, workflow.ErrWorkflowUnknown):
		return ErrCodeValidation
	default:
		return ErrCodeInternal
	}
}

type runParams struct {
	Workflow      string              `json:"workflow"`
	Route         string              `json:"route,omitempty"`
	OwnerID       string              `json:"owner_id"`
	SessionID     string              `json:"session_id,omitempty"`
	Turns         []conversation.Turn `json:"turns"`
	MemoryContext string              `json:"memory_context,omitempty"`
	LocationHint  string              `json:"location_hint,omitempty"`
}

type runResult struct {
	Text     string `json:"text,omitempty"`
	Category string `json:"category,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Fail     any    `json:"fail,omitempty"`
}

func (s *Server) workflowRun(ctx context.Context, raw json.RawMessage) (any, error) {
	var p runParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if p.Workflow == "" {
		p.Workflow = shared.DefaultWorkflowID
	}
	resp, err := s.cfg.Runner.Run(ctx, workflow.Request{
		Workflow:      p.Workflow,
		Route:         p.Route,
		OwnerID:       p.OwnerID,
		SessionID:     p.SessionID,
		Turns:         p.Turns,
		MemoryContext: p.MemoryContext,
		LocationHint:  p.LocationHint,
	})
	if err != nil {
		return nil, err
	}
	out := runResult{Text: resp.Text, Category: string(resp.Category), Fallback: resp.Fallback}
	if resp.Fail != nil {
		out.Fail = resp.Fail
	}
	return out, nil
}

type createParams struct {
	OwnerID      string   `json:"owner_id"`
	Tier         string   `json:"tier,omitempty"`
	Label        string   `json:"label"`
	Route        string   `json:"route"`
	Instructions string   `json:"instructions,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

type atoSummary struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Route string `json:"route"`
}

func (s *Server) atoCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p createParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	def, err := s.cfg.Registry.Create(ctx, ato.Definition{
		OwnerID:      p.OwnerID,
		Label:        p.Label,
		Route:        p.Route,
		SystemPrompt: p.Instructions,
		Model:        p.Model,
		Temperature:  p.Temperature,
		AllowedTools: p.Tools,
		Voice:        p.Voice,
	}, s.tier(p.Tier))
	if err != nil {
		return nil, err
	}
	return atoSummary{ID: def.ID, Label: def.Label, Route: def.Route}, nil
}

type updateParams struct {
	ID string `json:"id"`
	createParams
}

func (s *Server) atoUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p updateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	def := ato.Definition{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		Label:        p.Label,
		Route:        p.Route,
		SystemPrompt: p.Instructions,
		Model:        p.Model,
		Temperature:  p.Temperature,
		AllowedTools: p.Tools,
		Voice:        p.Voice,
	}
	if err := s.cfg.Registry.Update(ctx, def, s.tier(p.Tier)); err != nil {
		return nil, err
	}
	return atoSummary{ID: def.ID, Label: def.Label, Route: ato.NormalizeRoute(def.Route)}, nil
}

func (s *Server) atoList(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	defs, err := s.cfg.Registry.List(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}
	out := make([]atoSummary, len(defs))
	for i, def := range defs {
		out[i] = atoSummary{ID: def.ID, Label: def.Label, Route: def.Route}
	}
	return out, nil
}

func (s *Server) atoRemove(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		OwnerID string `json:"owner_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if err := s.cfg.Registry.Delete(ctx, p.ID, p.OwnerID); err != nil {
		return nil, err
	}
	return map[string]bool{"removed": true}, nil
}

func (s *Server) status() any {
	workflows := make([]string, 0, 5)
	for id := range workflow.Builtins() {
		workflows = append(workflows, id)
	}
	return map[string]any{
		"workflows":   workflows,
		"block_count": audit.BlockCount(),
	}
}

func (s *Server) tier(name string) config.TierConfig {
	if s.cfg.Cfg != nil {
		return s.cfg.Cfg.Tier(name)
	}
	return config.TierConfig{MaxCustomATOs: 3, MaxCreatedPerMonth: 3, MaxInstructionChars: 4000}
}

func (s *Server) addClient(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func errResponse(id any, code int, msg string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
