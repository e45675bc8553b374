package healthcare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/protocol"
	"github.com/phildougherty/medic/internal/store"
)

const (
	ServerName    = "healthcare-mcp-server"
	ServerVersion = "0.1.0"
)

// Server exposes the healthcare tools over HTTP JSON-RPC, SSE and WebSocket.
// Team notifications are pushed to every SSE and WebSocket client.
type Server struct {
	tools   *Tools
	logger  logr.Logger
	metrics *metrics.Collector
	auth    mux.MiddlewareFunc
	server  *http.Server

	clients   map[string]*websocket.Conn
	clientsMu sync.RWMutex
	writeMu   sync.Mutex
	upgrader  websocket.Upgrader

	sseSubs   map[chan []byte]struct{}
	sseSubsMu sync.Mutex
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []protocol.Tool `json:"tools"`
}

func NewServer(tools *Tools, collector *metrics.Collector, logger logr.Logger) *Server {
	s := &Server{
		tools:   tools,
		logger:  logger.WithName("mcp-server"),
		metrics: collector,
		clients: make(map[string]*websocket.Conn),
		sseSubs: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	tools.AddNotifier(s)
	if collector != nil {
		tools.SetMetrics(collector)
	}
	return s
}

// SetAuth installs middleware guarding every MCP route except /health.
func (s *Server) SetAuth(mw mux.MiddlewareFunc) {
	s.auth = mw
}

func (s *Server) Start(host string, port int) error {
	s.logger.Info("Starting healthcare MCP server", "host", host, "port", port)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.Handler(),
		ReadTimeout:  constants.DefaultReadTimeout,
		WriteTimeout: constants.DefaultToolTimeout,
		IdleTimeout:  constants.DefaultIdleTimeout,
	}

	s.logger.Info("Healthcare MCP server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping healthcare MCP server")

	s.clientsMu.Lock()
	for clientID, conn := range s.clients {
		conn.Close()
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	if s.metrics != nil {
		router.Use(s.metrics.Middleware)
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	router.HandleFunc("/health", s.healthHandler).Methods("GET")

	api := router.NewRoute().Subrouter()
	if s.auth != nil {
		api.Use(s.auth)
	}
	api.HandleFunc("/mcp", s.mcpHandler).Methods("POST")
	api.HandleFunc("/mcp/tools", s.toolsHandler).Methods("GET")
	api.HandleFunc("/mcp/tools/call", s.toolCallHandler).Methods("POST")
	api.HandleFunc("/mcp/sse", s.sseHandler).Methods("GET")
	api.HandleFunc("/mcp/ws", s.websocketHandler).Methods("GET")
	return router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   ServerName,
		"tools":     len(s.tools.GetMCPTools()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) mcpHandler(w http.ResponseWriter, r *http.Request) {
	var req protocol.MCPRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, bodyErrorStatus(err), protocol.NewErrorResponse(nil, protocol.NewParseError(err.Error())))
		return
	}

	resp := s.HandleRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRequest dispatches one JSON-RPC message. Notifications yield nil.
func (s *Server) HandleRequest(ctx context.Context, req protocol.MCPRequest) *protocol.MCPResponse {
	s.logger.V(1).Info("MCP request received", "method", req.Method, "id", req.ID)

	if req.JSONRPC != "2.0" {
		resp := protocol.NewErrorResponse(req.ID, protocol.NewInvalidRequest("jsonrpc must be \"2.0\""))
		return &resp
	}
	if req.ID == nil {
		if req.Method != protocol.MethodInitialized {
			s.logger.V(1).Info("Ignoring notification", "method", req.Method)
		}
		return nil
	}

	var resp protocol.MCPResponse
	switch req.Method {
	case protocol.MethodInitialize:
		resp = protocol.NewResult(req.ID, s.initializeResult())
	case protocol.MethodPing:
		resp = protocol.NewResult(req.ID, map[string]interface{}{})
	case protocol.MethodToolsList:
		resp = protocol.NewResult(req.ID, ToolsListResult{Tools: s.tools.GetMCPTools()})
	case protocol.MethodToolsCall:
		var params protocol.ToolCallParams
		if len(req.Params) == 0 {
			resp = protocol.NewErrorResponse(req.ID, protocol.NewInvalidParams("missing params", nil))
			break
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp = protocol.NewErrorResponse(req.ID, protocol.NewInvalidParams(err.Error(), nil))
			break
		}
		if params.Name == "" {
			resp = protocol.NewErrorResponse(req.ID, protocol.NewInvalidParams("missing tool name", nil))
			break
		}
		text := s.tools.ExecuteMCPToolJSON(ctx, params.Name, params.Arguments)
		resp = protocol.NewResult(req.ID, protocol.TextResult(text, false))
	default:
		resp = protocol.NewErrorResponse(req.ID, protocol.NewMethodNotFound(req.Method))
	}
	return &resp
}

func (s *Server) initializeResult() protocol.InitializeResult {
	return protocol.InitializeResult{
		ProtocolVersion: protocol.MCPVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		ServerInfo: protocol.ServerInfo{Name: ServerName, Version: ServerVersion},
	}
}

func (s *Server) toolsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ToolsListResult{Tools: s.tools.GetMCPTools()})
}

func (s *Server) toolCallHandler(w http.ResponseWriter, r *http.Request) {
	var req protocol.ToolCallParams
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, err.Error(), bodyErrorStatus(err))
		return
	}

	text := s.tools.ExecuteMCPToolJSON(r.Context(), req.Name, req.Arguments)
	writeJSON(w, http.StatusOK, protocol.TextResult(text, false))
}

func (s *Server) sseHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	events := make(chan []byte, 16)
	s.sseSubsMu.Lock()
	s.sseSubs[events] = struct{}{}
	s.sseSubsMu.Unlock()
	defer func() {
		s.sseSubsMu.Lock()
		delete(s.sseSubs, events)
		s.sseSubsMu.Unlock()
	}()

	s.logger.V(1).Info("SSE connection established")
	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connection","status":"connected"}`)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.V(1).Info("SSE connection closed")
			return
		case data := <-events:
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "data: %s\n\n", `{"type":"ping","timestamp":"`+time.Now().UTC().Format(time.RFC3339)+`"}`)
			flusher.Flush()
		}
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "Failed to upgrade to WebSocket")
		return
	}

	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())
	s.clientsMu.Lock()
	s.clients[clientID] = conn
	s.clientsMu.Unlock()

	s.logger.Info("WebSocket connection established", "clientID", clientID)
	s.writeWS(conn, map[string]interface{}{
		"type":      "connection",
		"status":    "connected",
		"clientID":  clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	go s.handleWebSocketMessages(clientID, conn)
}

// decodeBody reads a JSON body of at most MaxRequestBodySize bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *Server) handleWebSocketMessages(clientID string, conn *websocket.Conn) {
	conn.SetReadLimit(constants.MaxRequestBodySize)
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientID)
		s.clientsMu.Unlock()
		conn.Close()
		s.logger.Info("WebSocket connection closed", "clientID", clientID)
	}()

	for {
		var req protocol.MCPRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error(err, "Failed to read WebSocket message", "clientID", clientID)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultToolTimeout)
		resp := s.HandleRequest(ctx, req)
		cancel()
		if resp != nil {
			s.writeWS(conn, resp)
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(constants.DefaultWriteTimeout))
	return conn.WriteJSON(v)
}

// Notify implements Notifier by broadcasting the notification.
func (s *Server) Notify(_ context.Context, n store.Notification) {
	s.BroadcastToClients(map[string]interface{}{
		"type":         "team_notification",
		"notification": n,
	})
}

// BroadcastToClients sends a message to every WebSocket and SSE client.
// Slow SSE clients drop messages rather than block the tool call.
func (s *Server) BroadcastToClients(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error(err, "Failed to encode broadcast")
		return
	}

	s.clientsMu.Lock()
	for clientID, conn := range s.clients {
		if err := s.writeWS(conn, json.RawMessage(data)); err != nil {
			s.logger.Error(err, "Failed to send message to client", "clientID", clientID)
			delete(s.clients, clientID)
			conn.Close()
		}
	}
	s.clientsMu.Unlock()

	s.sseSubsMu.Lock()
	for ch := range s.sseSubs {
		select {
		case ch <- data:
		default:
		}
	}
	s.sseSubsMu.Unlock()
}

// GetServerInfo returns information about the MCP server.
func (s *Server) GetServerInfo() map[string]interface{} {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	return map[string]interface{}{
		"service":    ServerName,
		"version":    ServerVersion,
		"protocol":   "mcp",
		"transports": []string{"stdio", "http", "sse", "websocket"},
		"tools":      len(s.tools.GetMCPTools()),
		"clients":    clientCount,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
