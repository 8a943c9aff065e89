package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"pintrainer/internal/domain"
	"pintrainer/internal/infra/middleware"
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ip        string
	sessionID string // when set, only events of this session are forwarded
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// wants reports whether ev should be forwarded to the client. Session events
// reach only the session's owner unless the client holds PermSessionAny.
func (cc *clientConn) wants(ev domain.Event) bool {
	if ev.SessionID == "" {
		return true
	}
	if cc.sessionID != "" && ev.SessionID != cc.sessionID {
		return false
	}
	return cc.info.reachesAnySession() || (ev.Owner != "" && ev.Owner == cc.info.Name)
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	httpSrv    *http.Server
	boundAddr  atomic.Value // string
	nextID     atomic.Uint64
	connected  atomic.Int64
	unsubAll   func()
	httpRoutes []httpRoute // additional HTTP routes
	limiter    *middleware.RateLimiter
	trusted    []string
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger) *Server {
	return &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
		addr:     addr,
	}
}

// SetRateLimiter throttles both HTTP requests and RPC frames per client IP.
// Must be called before Start().
func (s *Server) SetRateLimiter(rl *middleware.RateLimiter, trustedProxies []string) {
	s.limiter = rl
	s.trusted = trustedProxies
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Handler builds the HTTP handler serving /ws and every registered route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return middleware.SecurityHeaders(h)
}

// Start begins accepting WebSocket connections. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Subscribe to all events and forward to connected clients.
	s.unsubAll = s.bus.SubscribeAll(s.forward)

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) forward(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{
		Type:    FrameTypeEvent,
		Method:  string(event.Type),
		Payload: payload,
	}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if !cc.wants(event) {
			return true
		}
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "client", cc.info.Name, "event", event.Type)
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	// Close all client connections.
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	if v, ok := s.boundAddr.Load().(string); ok {
		return v
	}
	return ""
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int { return int(s.connected.Load()) }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Authenticate via query param.
	token := r.URL.Query().Get("token")
	clientInfo, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow localhost for dev and same-origin.
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:      clientInfo,
		ip:        middleware.ClientIP(r, s.trusted),
		sessionID: r.URL.Query().Get("session_id"),
		ws:        ws,
		sendCh:    make(chan Frame, 64),
		done:      make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.connected.Add(1)

	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name, "session", cc.sessionID)

	// Start write loop.
	go s.writeLoop(cc)

	// Read loop (blocking).
	s.readLoop(r.Context(), cc)

	// Cleanup.
	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	s.connected.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		err := wsjson.Read(ctx, cc.ws, &frame)
		if err != nil {
			return // connection closed or error
		}

		if frame.Type != FrameTypeRequest {
			continue
		}
		if s.limiter != nil && !s.limiter.Allow(cc.ip) {
			s.sendResponse(cc, frame.ID, nil, domain.NewDomainError("gateway."+frame.Method, domain.ErrRateLimit, cc.ip))
			continue
		}

		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError("gateway", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	ctx = domain.ContextWithRoles(ctx, cc.info.authRoles())
	ctx = domain.ContextWithOwner(ctx, cc.info.Name)
	if cc.sessionID != "" {
		ctx = domain.ContextWithSessionID(ctx, cc.sessionID)
	}

	result, err := handler(ctx, cc.info, req.Payload)
	if err != nil {
		s.logger.Debug("rpc failed", "method", req.Method, "client", cc.info.Name, "error", err)
	}
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
