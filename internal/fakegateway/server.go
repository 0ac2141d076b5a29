// ABOUTME: In-process fake bot gateway speaking both the polling and the streaming protocol
// ABOUTME: Records every call and lets tests script replies, pushes and failures

package fakegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"
)

// Call is one request the gateway received, from either protocol.
type Call struct {
	Command    string
	SubCommand string
	Method     string // HTTP method; "WS" for socket frames
	SessionKey string
	SyncID     string // socket frames only
	Body       json.RawMessage
}

// Server is a scriptable gateway. The zero value is not usable; call New.
type Server struct {
	verifyKey string
	qq        int64
	logger    *slog.Logger
	echo      *echo.Echo
	upgrader  websocket.Upgrader

	mu          sync.Mutex
	sessions    map[string]bool // session -> bound
	queue       []json.RawMessage
	calls       []Call
	replies     map[string]json.RawMessage
	silent      map[string]bool
	ackCode     int
	fetchStatus int
	nextMsgID   int64
	clients     map[*client]struct{}
}

type client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *client) writeRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// New creates a gateway that accepts verifyKey for bot qq.
func New(verifyKey string, qq int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		verifyKey: verifyKey,
		qq:        qq,
		logger:    logger.With("component", "fakegateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]bool),
		replies:  make(map[string]json.RawMessage),
		silent:   make(map[string]bool),
		clients:  make(map[*client]struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.POST("/verify", s.handleVerify)
	e.POST("/bind", s.handleBind)
	e.POST("/release", s.handleRelease)
	e.GET("/fetchMessage", s.handleFetch)
	e.GET("/all", s.handleSocket)
	e.Any("/*", s.handleCommand)
	s.echo = e
	return s
}

// Handler returns the HTTP handler serving both protocols.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until the listener fails.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// Enqueue adds items to the polling queue.
func (s *Server) Enqueue(items ...json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, items...)
}

// Queued returns how many items wait to be fetched.
func (s *Server) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Push sends item to every connected socket as an unsolicited push.
func (s *Server) Push(item json.RawMessage) error {
	return s.broadcast(map[string]any{"syncId": "-1", "data": item})
}

// SendFrame writes a raw frame to every connected socket.
func (s *Server) SendFrame(frame []byte) error {
	for _, c := range s.connected() {
		if err := c.writeRaw(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) broadcast(v any) error {
	for _, c := range s.connected() {
		if err := c.writeJSON(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) connected() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// DropConnections closes every open socket.
func (s *Server) DropConnections() {
	for _, c := range s.connected() {
		c.ws.Close()
	}
}

// SetReply makes command answer with body instead of the default success reply.
func (s *Server) SetReply(command string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("fakegateway: marshaling reply for %s: %v", command, err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[command] = raw
}

// SetSilent makes command go unanswered on the socket.
func (s *Server) SetSilent(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[command] = true
}

// SetAckCode makes new sockets receive a connection ack with code.
func (s *Server) SetAckCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackCode = code
}

// FailFetch makes fetchMessage answer with an HTTP status instead of a batch.
// Zero restores normal behavior.
func (s *Server) FailFetch(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchStatus = status
}

// InvalidateSessions forgets every session, as a gateway restart would.
func (s *Server) InvalidateSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// Calls returns every recorded call in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the recorded calls for command.
func (s *Server) CallsTo(command string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	s.logger.Debug("call received", "command", c.Command, "sub_command", c.SubCommand, "method", c.Method)
}

// reply builds the answer for command. Send operations get fresh message ids.
func (s *Server) reply(command string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raw, ok := s.replies[command]; ok {
		return raw
	}
	if strings.HasPrefix(command, "send") && strings.HasSuffix(command, "Message") {
		s.nextMsgID++
		return json.RawMessage(fmt.Sprintf(`{"code":0,"msg":"success","messageId":%d}`, s.nextMsgID))
	}
	return json.RawMessage(`{"code":0,"msg":"success"}`)
}

func (s *Server) handleVerify(c echo.Context) error {
	var body struct {
		VerifyKey string `json:"verifyKey"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"code": 400, "msg": err.Error()})
	}
	if body.VerifyKey != s.verifyKey {
		return c.JSON(http.StatusOK, map[string]any{"code": 1, "msg": "wrong verify key"})
	}

	session := uuid.NewString()
	s.mu.Lock()
	s.sessions[session] = false
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"code": 0, "session": session})
}

type sessionBody struct {
	SessionKey string `json:"sessionKey"`
	QQ         int64  `json:"qq"`
}

func (s *Server) handleBind(c echo.Context) error {
	var body sessionBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"code": 400, "msg": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[body.SessionKey]; !ok {
		return c.JSON(http.StatusOK, map[string]any{"code": 3, "msg": "invalid session"})
	}
	if body.QQ != s.qq {
		return c.JSON(http.StatusOK, map[string]any{"code": 2, "msg": "bot not found"})
	}
	s.sessions[body.SessionKey] = true
	return c.JSON(http.StatusOK, map[string]any{"code": 0, "msg": "success"})
}

func (s *Server) handleRelease(c echo.Context) error {
	var body sessionBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"code": 400, "msg": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[body.SessionKey]; !ok {
		return c.JSON(http.StatusOK, map[string]any{"code": 3, "msg": "invalid session"})
	}
	delete(s.sessions, body.SessionKey)
	return c.JSON(http.StatusOK, map[string]any{"code": 0, "msg": "success"})
}

// Sessions returns the number of sessions verified and not yet released.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) bound(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[session]
}

func (s *Server) handleFetch(c echo.Context) error {
	session := c.Request().Header.Get("sessionKey")
	s.record(Call{Command: "fetchMessage", Method: http.MethodGet, SessionKey: session})

	s.mu.Lock()
	status := s.fetchStatus
	s.mu.Unlock()
	if status != 0 {
		return c.String(status, "fetch failed")
	}
	if !s.bound(session) {
		return c.JSON(http.StatusOK, map[string]any{"code": 3, "msg": "invalid session"})
	}

	count, err := strconv.Atoi(c.QueryParam("count"))
	if err != nil || count <= 0 {
		count = 10
	}

	s.mu.Lock()
	n := min(count, len(s.queue))
	batch := s.queue[:n:n]
	s.queue = s.queue[n:]
	s.mu.Unlock()

	if batch == nil {
		batch = []json.RawMessage{}
	}
	return c.JSON(http.StatusOK, map[string]any{"code": 0, "msg": "", "data": batch})
}

// handleCommand answers every other polling endpoint. "/file/list" records as
// the "file_list" command.
func (s *Server) handleCommand(c echo.Context) error {
	req := c.Request()
	session := req.Header.Get("sessionKey")
	command := strings.ReplaceAll(strings.Trim(req.URL.Path, "/"), "/", "_")

	var body json.RawMessage
	if req.Method == http.MethodGet {
		params := make(map[string]string)
		for k, v := range req.URL.Query() {
			params[k] = v[0]
		}
		body, _ = json.Marshal(params)
	} else {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		body = raw
	}
	s.record(Call{Command: command, Method: req.Method, SessionKey: session, Body: body})

	if !s.bound(session) {
		return c.JSON(http.StatusOK, map[string]any{"code": 3, "msg": "invalid session"})
	}
	return c.JSONBlob(http.StatusOK, s.reply(command))
}

func (s *Server) handleSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return err
	}
	cl := &client{ws: ws}

	s.mu.Lock()
	ackCode := s.ackCode
	s.mu.Unlock()

	key := c.QueryParam("verifyKey")
	qq, _ := strconv.ParseInt(c.QueryParam("qq"), 10, 64)
	switch {
	case ackCode != 0:
	case key != s.verifyKey:
		ackCode = 1
	case qq != s.qq:
		ackCode = 2
	}
	if ackCode != 0 {
		_ = cl.writeJSON(map[string]any{"syncId": "", "data": map[string]any{"code": ackCode, "msg": "refused"}})
		ws.Close()
		return nil
	}

	session := uuid.NewString()
	s.mu.Lock()
	s.sessions[session] = true
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	if err := cl.writeJSON(map[string]any{"syncId": "", "data": map[string]any{"code": 0, "session": session}}); err != nil {
		s.dropClient(cl)
		return nil
	}

	go s.readSocket(cl, session)
	return nil
}

func (s *Server) dropClient(cl *client) {
	s.mu.Lock()
	delete(s.clients, cl)
	s.mu.Unlock()
	cl.ws.Close()
}

func (s *Server) readSocket(cl *client, session string) {
	defer s.dropClient(cl)

	for {
		_, frame, err := cl.ws.ReadMessage()
		if err != nil {
			return
		}

		syncID := gjson.GetBytes(frame, "syncId").String()
		command := gjson.GetBytes(frame, "command").String()
		s.record(Call{
			Command:    command,
			SubCommand: gjson.GetBytes(frame, "subCommand").String(),
			Method:     "WS",
			SessionKey: session,
			SyncID:     syncID,
			Body:       json.RawMessage(gjson.GetBytes(frame, "content").Raw),
		})

		s.mu.Lock()
		quiet := s.silent[command]
		s.mu.Unlock()
		if quiet {
			continue
		}

		if err := cl.writeJSON(map[string]any{"syncId": syncID, "data": s.reply(command)}); err != nil {
			return
		}
	}
}
