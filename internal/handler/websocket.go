package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/flybeeper/drone-sim/internal/auth"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/pool"
)

const (
	writeWait      = 10 * time.Second
	clientSendSize = 64
)

// Типы сообщений WebSocket
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
	MessagePong     = "pong"
)

// Message исходящее сообщение клиенту
type Message struct {
	Type     string           `json:"type"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Changed  *bool            `json:"changed,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// clientMessage входящее сообщение: {"type":"start|pause|reset|ping"}
type clientMessage struct {
	Type string `json:"type"`
}

// WebSocketConfig параметры соединений
type WebSocketConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	Buffer       int  // Буфер подписки на симулятор
	RequireToken bool // Команды жизненного цикла только от операторов
}

// WebSocketHandler рассылает снимки симуляции подключенным клиентам
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	sim      SimulationController
	config   WebSocketConfig
	logger   *logrus.Entry

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// Client WebSocket соединение
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *WebSocketHandler

	// Последний отправленный sequence; снимки не новее него пропускаются
	lastSequence uint64
	closeOnce    sync.Once
	canControl   bool
}

// NewWebSocketHandler создает новый WebSocket handler
func NewWebSocketHandler(sim SimulationController, cfg WebSocketConfig, logger *logrus.Entry) *WebSocketHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sim:     sim,
		config:  cfg,
		logger:  logger.WithField("component", "websocket"),
		clients: make(map[*Client]struct{}),
	}
}

// Start подписывается на симулятор и рассылает снимки до отмены контекста.
// Подписка оформляется до возврата.
func (h *WebSocketHandler) Start(ctx context.Context) {
	snapshots, cancel := h.sim.Subscribe(h.config.Buffer)
	go h.run(ctx, snapshots, cancel)
}

func (h *WebSocketHandler) run(ctx context.Context, snapshots <-chan models.Snapshot, cancel func()) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case snap, ok := <-snapshots:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(snap)
		}
	}
}

// HandleWebSocket обрабатывает WebSocket подключения
// GET /ws/v1/simulation
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade to WebSocket")
		return
	}

	op, _ := auth.GetOperator(c)
	client := &Client{
		conn:       conn,
		send:       make(chan []byte, clientSendSize),
		handler:    h,
		canControl: !h.config.RequireToken || op.CanControl(),
	}

	// Регистрация и первый снимок под одной блокировкой с рассылкой
	h.mu.Lock()
	h.clients[client] = struct{}{}
	client.enqueueSnapshot(h.sim.Snapshot())
	h.mu.Unlock()

	h.logger.WithField("client_ip", c.ClientIP()).Info("WebSocket client connected")
	metrics.WebSocketConnections.Inc()

	go client.writePump()
	go client.readPump()
}

// ClientCount возвращает число подключенных клиентов
func (h *WebSocketHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WebSocketHandler) broadcast(snap models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return
	}
	data, err := encodeMessage(Message{Type: MessageSnapshot, Snapshot: &snap})
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to encode snapshot")
		return
	}
	for client := range h.clients {
		client.enqueue(snap.Sequence, data)
	}
}

func (h *WebSocketHandler) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if ok {
		client.closeSend()
		metrics.WebSocketConnections.Dec()
		h.logger.Debug("WebSocket client disconnected")
	}
}

func (h *WebSocketHandler) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

// enqueueSnapshot кодирует и ставит снимок в очередь; вызывается под h.mu
func (c *Client) enqueueSnapshot(snap models.Snapshot) {
	data, err := encodeMessage(Message{Type: MessageSnapshot, Snapshot: &snap})
	if err != nil {
		c.handler.logger.WithField("error", err).Error("Failed to encode snapshot")
		return
	}
	c.enqueue(snap.Sequence, data)
}

// enqueue не блокируется: медленный клиент теряет снимки; вызывается под h.mu
func (c *Client) enqueue(sequence uint64, data []byte) {
	if sequence != 0 && sequence <= c.lastSequence {
		return
	}
	select {
	case c.send <- data:
		c.lastSequence = sequence
	default:
		metrics.WebSocketErrors.Inc()
		c.handler.logger.Debug("WebSocket client send buffer full, dropping snapshot")
	}
}

// reply отправляет ответ на команду клиента
func (c *Client) reply(msg Message) {
	data, err := encodeMessage(msg)
	if err != nil {
		return
	}
	c.handler.mu.Lock()
	defer c.handler.mu.Unlock()
	if _, ok := c.handler.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.WebSocketErrors.Inc()
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		c.conn.Close()
	}()

	pongTimeout := c.handler.config.PongTimeout
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.logger.WithField("error", err).Error("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(c.handler.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.handler.logger.WithField("error", err).Error("WebSocket write error")
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("update").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.handler.logger.WithField("error", err).Error("Ping write error")
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()
		}
	}
}

// handleMessage применяет команды жизненного цикла от клиента
func (c *Client) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(Message{Type: MessageError, Error: "invalid message"})
		return
	}

	switch msg.Type {
	case "start", "pause", "reset":
		if !c.canControl {
			c.reply(Message{Type: MessageError, Error: "operator token required"})
			return
		}
	}

	ctx := context.Background()
	var (
		snap    models.Snapshot
		changed bool
	)
	switch msg.Type {
	case "start":
		snap, changed = c.handler.sim.Start(ctx)
	case "pause":
		snap, changed = c.handler.sim.Pause(ctx)
	case "reset":
		snap, changed = c.handler.sim.Reset(ctx)
	case "ping":
		c.reply(Message{Type: MessagePong})
		return
	default:
		c.reply(Message{Type: MessageError, Error: "unknown message type: " + msg.Type})
		return
	}

	c.handler.logger.WithFields(logrus.Fields{
		"action":  msg.Type,
		"changed": changed,
	}).Debug("WebSocket lifecycle command")

	// Изменившееся состояние придет обычной рассылкой
	if !changed {
		c.reply(Message{Type: MessageSnapshot, Snapshot: &snap, Changed: &changed})
	}
}

// encodeMessage сериализует сообщение через буфер из пула
func encodeMessage(msg Message) ([]byte, error) {
	buf := pool.Global.GetBuffer()
	defer pool.Global.PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}
