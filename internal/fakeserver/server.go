// Package fakeserver provides a fake persistent-connection server for testing purposes.
// It speaks the negotiate/connect/send/abort/ping protocol over HTTP and serves
// the webSockets, serverSentEvents and longPolling transports, and includes
// failure injection capabilities.
//
// The WebSocket endpoint is implemented using the `gws` library and routing
// uses `gorilla/mux`.
//
// Messages pushed with Broadcast are kept in a per-session history so that
// reconnecting clients receive what they missed since their messageId.
package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/lxzan/gws"
	"github.com/surrealdb/signalr.go/pkg/wire"
)

// BasePath is the path the server is mounted on.
const BasePath = "/signalr"

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureNone indicates no failure injection
	FailureNone FailureType = "none"
	// FailureStatus answers the request with an HTTP error status
	FailureStatus FailureType = "status"
	// FailureDelay delays before processing the request
	FailureDelay FailureType = "delay"
	// FailureInvalidResponse sends a body that is not JSON
	FailureInvalidResponse FailureType = "invalid_response"
)

// FailureConfig defines how a request to an endpoint fails.
type FailureConfig struct {
	Type FailureType
	// Status is the HTTP status for FailureStatus (default 500)
	Status int
	// Delay is the wait for FailureDelay
	Delay time.Duration
	// Times is how many requests fail before the endpoint recovers. 0 means forever.
	Times int
}

// HubCall is a hub invocation received by the server.
type HubCall struct {
	Hub    string
	Method string
	Args   []json.RawMessage
	// State is the caller's hub state. Handlers may modify it and the
	// result carries it back.
	State wire.State
}

// HubMethod handles a hub invocation and returns its result.
type HubMethod func(call *HubCall) (any, error)

// Request is a recorded HTTP request.
type Request struct {
	Path   string
	Query  map[string]string
	Method string
	Body   string
}

type session struct {
	id        string
	token     string
	transport string
	history   []json.RawMessage
	notify    chan struct{}
	socket    *gws.Conn
	stream    chan []byte
	streamEnd context.CancelFunc
	// disconnect makes the next poll answer with a disconnect frame.
	disconnect bool
}

// Server is a fake server that implements the persistent connection protocol
// with support for hub method stubs and failure injection
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	upgrader *gws.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	sessions    map[string]*session
	sockets     map[*gws.Conn]*session
	hubMethods  map[string]HubMethod
	failures    map[string]*FailureConfig
	requests    []Request
	received    []string
	disabled    map[string]bool
	counter     int
	groupsToken string

	// ProtocolVersion is reported by negotiate.
	ProtocolVersion string
	// KeepAliveTimeout in seconds. Zero disables keep-alive.
	KeepAliveTimeout float64
	// DisconnectTimeout in seconds.
	DisconnectTimeout float64
	// ConnectionTimeout in seconds, how long the server holds a poll at most.
	ConnectionTimeout float64
	// TryWebSockets is reported by negotiate.
	TryWebSockets bool
	// PollTimeout is how long a poll is held when nothing is pending.
	PollTimeout time.Duration
	// Echo broadcasts every non-hub message received through send.
	Echo bool
}

// Handler implements the gws.Event interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a new fake server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:              addr,
		ctx:               ctx,
		cancel:            cancel,
		sessions:          make(map[string]*session),
		sockets:           make(map[*gws.Conn]*session),
		hubMethods:        make(map[string]HubMethod),
		failures:          make(map[string]*FailureConfig),
		disabled:          make(map[string]bool),
		ProtocolVersion:   "1.2",
		DisconnectTimeout: 30,
		ConnectionTimeout: 110,
		TryWebSockets:     true,
		PollTimeout:       500 * time.Millisecond,
	}
	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{})

	router := mux.NewRouter()
	sub := router.PathPrefix(BasePath).Subrouter()
	sub.HandleFunc("/negotiate", s.handleNegotiate).Methods(http.MethodGet)
	sub.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	sub.HandleFunc("/send", s.handleSend).Methods(http.MethodGet, http.MethodPost)
	sub.HandleFunc("/abort", s.handleAbort).Methods(http.MethodPost)
	sub.HandleFunc("/connect", s.handleTransport).Methods(http.MethodGet)
	sub.HandleFunc("/reconnect", s.handleTransport).Methods(http.MethodGet)
	router.HandleFunc(BasePath, s.handleTransport).Methods(http.MethodGet)

	s.http = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start starts the server and begins accepting connections.
// Returns an error if the server cannot bind to the specified address.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the server and closes all connections
func (s *Server) Stop() error {
	s.cancel()
	s.DropConnections()
	return s.http.Close()
}

// Address returns the actual address the server is listening on.
// This is useful when using "127.0.0.1:0" to get the assigned port.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the connection endpoint.
func (s *Server) URL() string {
	return "http://" + s.Address() + BasePath
}

// AddHubMethod registers a hub method stub. Names are case-insensitive.
func (s *Server) AddHubMethod(hub, method string, fn HubMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hubMethods[strings.ToLower(hub)+"."+strings.ToLower(method)] = fn
}

// SetFailure makes requests to the endpoint ("negotiate", "ping", "send",
// "abort", "connect", "reconnect" or "poll") fail.
func (s *Server) SetFailure(endpoint string, failure FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &failure
}

// ClearFailures removes every failure configuration.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*FailureConfig)
}

// DisableTransport refuses connect and reconnect requests for the transport.
func (s *Server) DisableTransport(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[name] = true
}

// SetGroupsToken makes subsequent frames carry the groups token.
func (s *Server) SetGroupsToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupsToken = token
}

// Requests returns the recorded requests to an endpoint, in arrival order.
func (s *Server) Requests(endpoint string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Path == endpoint {
			out = append(out, r)
		}
	}
	return out
}

// Received returns the non-hub payloads received through send.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Broadcast pushes msg to every session.
func (s *Server) Broadcast(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.history = append(sess.history, raw)
		s.pushLocked(sess, s.frameLocked(sess, len(sess.history), []json.RawMessage{raw}, false))
		select {
		case sess.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// InvokeClient calls a client hub method on every session.
func (s *Server) InvokeClient(hub, method string, args ...any) error {
	encoded, err := wire.EncodeArgs(args)
	if err != nil {
		return err
	}
	return s.Broadcast(wire.ClientHubInvocation{Hub: hub, Method: method, Args: encoded})
}

// SendHeartbeat writes an empty frame to every streaming session.
func (s *Server) SendHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		s.pushLocked(sess, []byte("{}"))
	}
}

// SendDisconnect asks every session to disconnect.
func (s *Server) SendDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		frame, _ := (&wire.PersistentResponse{Disconnect: true}).Encode()
		sess.disconnect = true
		s.pushLocked(sess, frame)
		select {
		case sess.notify <- struct{}{}:
		default:
		}
	}
}

// DropConnections abruptly closes every websocket and event stream.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.socket != nil {
			_ = sess.socket.NetConn().Close()
			sess.socket = nil
		}
		if sess.streamEnd != nil {
			sess.streamEnd()
			sess.streamEnd = nil
			sess.stream = nil
		}
	}
}

// Sessions returns the number of negotiated sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Connected returns the names of the transports currently holding a live stream.
func (s *Server) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sess := range s.sessions {
		if sess.socket != nil || sess.stream != nil {
			out = append(out, sess.transport)
		}
	}
	return out
}

// frameLocked encodes a persistent response ending at cursor.
func (s *Server) frameLocked(sess *session, cursor int, messages []json.RawMessage, initialized bool) []byte {
	frame := map[string]any{
		"C": strconv.Itoa(cursor),
		"M": messages,
	}
	if messages == nil {
		frame["M"] = []json.RawMessage{}
	}
	if initialized {
		frame["S"] = 1
	}
	if s.groupsToken != "" {
		frame["G"] = s.groupsToken
	}
	data, _ := json.Marshal(frame)
	return data
}

// pushLocked writes a frame to the session's live stream, if any.
func (s *Server) pushLocked(sess *session, frame []byte) {
	switch {
	case sess.socket != nil:
		if err := sess.socket.WriteMessage(gws.OpcodeText, frame); err != nil {
			log.Printf("Error writing frame: %v", err)
		}
	case sess.stream != nil:
		select {
		case sess.stream <- frame:
		default:
			log.Printf("Dropping frame for slow event stream %s", sess.id)
		}
	}
}

func (s *Server) record(endpoint string, r *http.Request, body string) {
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}
	s.mu.Lock()
	s.requests = append(s.requests, Request{Path: endpoint, Query: query, Method: r.Method, Body: body})
	s.mu.Unlock()
}

// fail applies the endpoint's failure configuration and reports whether the
// request has been answered.
func (s *Server) fail(endpoint string, w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	failure, ok := s.failures[endpoint]
	if ok && failure.Times > 0 {
		failure.Times--
		if failure.Times == 0 {
			delete(s.failures, endpoint)
		} else {
			s.failures[endpoint] = failure
		}
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	switch failure.Type {
	case FailureStatus:
		status := failure.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		http.Error(w, "injected failure", status)
		return true
	case FailureInvalidResponse:
		_, _ = w.Write([]byte("not json"))
		return true
	case FailureDelay:
		select {
		case <-time.After(failure.Delay):
		case <-r.Context().Done():
			return true
		}
	}
	return false
}

func (s *Server) session(r *http.Request) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.URL.Query().Get("connectionToken")]
	return sess, ok
}

func writeJSON(w http.ResponseWriter, r *http.Request, body []byte) {
	if cb := r.URL.Query().Get("callback"); cb != "" {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = fmt.Fprintf(w, "%s(%s);", cb, body)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_, _ = w.Write(body)
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	s.record("negotiate", r, "")
	if s.fail("negotiate", w, r) {
		return
	}

	s.mu.Lock()
	s.counter++
	sess := &session{
		id:     fmt.Sprintf("conn-%d", s.counter),
		token:  fmt.Sprintf("token-%d", s.counter),
		notify: make(chan struct{}, 1),
	}
	s.sessions[sess.token] = sess
	res := wire.NegotiateResponse{
		URL:               BasePath,
		ConnectionID:      sess.id,
		ConnectionToken:   sess.token,
		DisconnectTimeout: s.DisconnectTimeout,
		ConnectionTimeout: s.ConnectionTimeout,
		TryWebSockets:     s.TryWebSockets,
		ProtocolVersion:   s.ProtocolVersion,
	}
	if s.KeepAliveTimeout > 0 {
		keepAlive := s.KeepAliveTimeout
		res.KeepAliveTimeout = &keepAlive
	}
	s.mu.Unlock()

	body, _ := json.Marshal(res)
	writeJSON(w, r, body)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.record("ping", r, "")
	if s.fail("ping", w, r) {
		return
	}
	body, _ := json.Marshal(wire.PingResponse{Response: wire.Pong})
	writeJSON(w, r, body)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.record("abort", r, "")
	if s.fail("abort", w, r) {
		return
	}

	s.mu.Lock()
	token := r.URL.Query().Get("connectionToken")
	if sess, ok := s.sessions[token]; ok {
		if sess.socket != nil {
			_ = sess.socket.WriteClose(1000, nil)
		}
		if sess.streamEnd != nil {
			sess.streamEnd()
		}
		delete(s.sessions, token)
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data := r.Form.Get("data")
	s.record("send", r, data)
	if s.fail("send", w, r) {
		return
	}
	if _, ok := s.session(r); !ok {
		http.Error(w, "unknown connection", http.StatusBadRequest)
		return
	}

	if res := s.dispatch([]byte(data)); res != nil {
		writeJSON(w, r, res)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// dispatch handles a payload sent by a client and returns the reply, if any.
func (s *Server) dispatch(data []byte) []byte {
	var inv wire.HubInvocation
	if err := json.Unmarshal(data, &inv); err != nil || inv.Hub == "" {
		s.mu.Lock()
		s.received = append(s.received, string(data))
		echo := s.Echo
		s.mu.Unlock()
		if echo {
			_ = s.Broadcast(json.RawMessage(data))
		}
		return nil
	}

	s.mu.Lock()
	fn, ok := s.hubMethods[strings.ToLower(inv.Hub)+"."+strings.ToLower(inv.Method)]
	s.mu.Unlock()

	res := wire.HubResult{ID: inv.ID}
	if !ok {
		res.Error = fmt.Sprintf("'%s' method could not be resolved.", inv.Method)
	} else {
		call := &HubCall{Hub: inv.Hub, Method: inv.Method, Args: inv.Args, State: inv.State.Clone()}
		if call.State == nil {
			call.State = wire.State{}
		}
		result, err := fn(call)
		if err != nil {
			res.Error = err.Error()
		} else if result != nil {
			raw, merr := json.Marshal(result)
			if merr != nil {
				res.Error = merr.Error()
			} else {
				res.Result = raw
			}
		}
		if len(call.State) > 0 {
			res.State = call.State
		}
	}
	out, _ := json.Marshal(res)
	return out
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	endpoint := "poll"
	switch {
	case strings.HasSuffix(r.URL.Path, "/connect"):
		endpoint = "connect"
	case strings.HasSuffix(r.URL.Path, "/reconnect"):
		endpoint = "reconnect"
	}
	s.record(endpoint, r, "")
	if s.fail(endpoint, w, r) {
		return
	}

	sess, ok := s.session(r)
	if !ok {
		http.Error(w, "unknown connection", http.StatusBadRequest)
		return
	}

	transport := r.URL.Query().Get("transport")
	s.mu.Lock()
	disabled := s.disabled[transport]
	s.mu.Unlock()
	if disabled {
		http.Error(w, "transport disabled", http.StatusBadRequest)
		return
	}

	cursor := 0
	if id := r.URL.Query().Get("messageId"); id != "" {
		cursor, _ = strconv.Atoi(id)
	}

	switch transport {
	case "webSockets":
		s.serveWebSocket(w, r, sess, cursor, endpoint == "connect")
	case "serverSentEvents":
		s.serveEventStream(w, r, sess, cursor, endpoint == "connect")
	case "longPolling":
		s.servePoll(w, r, sess, cursor, endpoint == "connect")
	default:
		http.Error(w, "unknown transport", http.StatusBadRequest)
	}
}

// backlogLocked returns the frame a client at cursor should receive first.
func (s *Server) backlogLocked(sess *session, cursor int, initialized bool) []byte {
	if cursor > len(sess.history) {
		cursor = len(sess.history)
	}
	return s.frameLocked(sess, len(sess.history), sess.history[cursor:], initialized)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, sess *session, cursor int, initial bool) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		log.Printf("Upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	if sess.socket != nil {
		_ = sess.socket.NetConn().Close()
		delete(s.sockets, sess.socket)
	}
	sess.transport = "webSockets"
	sess.socket = socket
	s.sockets[socket] = sess
	first := s.backlogLocked(sess, cursor, initial)
	s.mu.Unlock()

	if err := socket.WriteMessage(gws.OpcodeText, first); err != nil {
		log.Printf("Error writing initial frame: %v", err)
	}
	go socket.ReadLoop()
}

func (s *Server) serveEventStream(w http.ResponseWriter, r *http.Request, sess *session, cursor int, initial bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stream := make(chan []byte, 64)

	s.mu.Lock()
	if sess.streamEnd != nil {
		sess.streamEnd()
	}
	sess.transport = "serverSentEvents"
	sess.stream = stream
	sess.streamEnd = cancel
	first := s.backlogLocked(sess, cursor, initial)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "data: initialized\n\n")
	_, _ = fmt.Fprintf(w, "data: %s\n\n", first)
	flusher.Flush()

	for {
		select {
		case frame := <-stream:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) servePoll(w http.ResponseWriter, r *http.Request, sess *session, cursor int, initial bool) {
	s.mu.Lock()
	sess.transport = "longPolling"
	if sess.disconnect {
		s.mu.Unlock()
		frame, _ := (&wire.PersistentResponse{Disconnect: true}).Encode()
		writeJSON(w, r, frame)
		return
	}
	if initial {
		frame := s.backlogLocked(sess, len(sess.history), true)
		s.mu.Unlock()
		writeJSON(w, r, frame)
		return
	}
	if cursor < len(sess.history) {
		frame := s.backlogLocked(sess, cursor, false)
		s.mu.Unlock()
		writeJSON(w, r, frame)
		return
	}
	timeout := s.PollTimeout
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sess.notify:
	case <-timer.C:
	case <-r.Context().Done():
		return
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	if _, ok := s.sessions[sess.token]; !ok || sess.disconnect {
		s.mu.Unlock()
		frame, _ := (&wire.PersistentResponse{Disconnect: true}).Encode()
		writeJSON(w, r, frame)
		return
	}
	frame := s.backlogLocked(sess, cursor, false)
	s.mu.Unlock()
	writeJSON(w, r, frame)
}

func (h *Handler) OnOpen(socket *gws.Conn) {}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	if sess, ok := h.server.sockets[socket]; ok {
		if sess.socket == socket {
			sess.socket = nil
		}
		delete(h.server.sockets, socket)
	}
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("Error writing Pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := append([]byte(nil), message.Bytes()...)
	if res := h.server.dispatch(data); res != nil {
		if err := socket.WriteMessage(gws.OpcodeText, res); err != nil {
			log.Printf("Error writing hub result: %v", err)
		}
	}
}
