package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"estados/internal/domain/status"
	"estados/internal/events"
	"estados/internal/services"
	"estados/internal/transport/httpdto"
	"estados/internal/viewer"
	estados_errors "estados/pkg/errors"
	"estados/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// ViewerService is what a socket needs to drive the caller's viewer.
type ViewerService interface {
	OpenViewer(ctx context.Context, viewerID uuid.UUID, source status.Source, userIdx, statusIdx int) (viewer.State, error)
	Viewer(ctx context.Context, viewerID uuid.UUID) (*viewer.Viewer, error)
}

// Client is one websocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID

	hub     *Hub
	conn    *websocket.Conn
	service ViewerService
	logger  *logger.Logger

	send     chan []byte
	channels map[string]bool
	closed   bool
	mu       sync.RWMutex

	watching *viewer.Viewer
	release  func() bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, service ViewerService, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	id := uuid.New().String()
	return &Client{
		ID:       id,
		UserID:   userID,
		hub:      hub,
		conn:     conn,
		service:  service,
		logger:   log.Named("websocket").With(zap.String("client_id", id), zap.String("user_id", userID.String())),
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
	}
}

// SendMessage queues msg without blocking. A full or closed queue drops it.
func (c *Client) SendMessage(msg []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send queue full, message dropped")
	}
}

func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (c *Client) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Client) track(channel string) {
	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()
}

func (c *Client) untrack(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles inbound frames until the connection fails or ctx ends.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket unexpected close", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(ServerMessage{Type: TypeError, Error: "malformed message", Code: "INVALID_REQUEST"})
			continue
		}
		c.handle(ctx, msg)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeSubscribe, TypeUnsubscribe:
		c.handleSubscription(msg)
	case TypeViewerOpen:
		c.handleViewerOpen(ctx, msg)
	case TypeViewerKey:
		key, ok := viewer.ParseKey(msg.Key)
		if !ok {
			c.replyError(estados_errors.ErrInvalidInput)
			return
		}
		c.withViewer(ctx, func(v *viewer.Viewer) error { return v.HandleKey(key) })
	case TypeViewerGoTo:
		c.withViewer(ctx, func(v *viewer.Viewer) error { return v.GoTo(msg.Index) })
	case TypeViewerClose:
		c.withViewer(ctx, func(v *viewer.Viewer) error {
			v.Close()
			return nil
		})
	case TypePing:
		c.reply(ServerMessage{Type: TypePong})
	default:
		c.logger.Debug("unknown message type", zap.String("msg_type", msg.Type))
		c.reply(ServerMessage{Type: TypeError, Error: "unknown message type", Code: "INVALID_REQUEST"})
	}
}

func (c *Client) handleSubscription(msg ClientMessage) {
	channel, err := channelFor(msg.Table, msg.EstadoID)
	if err != nil {
		c.replyError(err)
		return
	}
	if msg.Type == TypeSubscribe {
		c.hub.Subscribe(c, channel)
		c.reply(ServerMessage{Type: TypeSubscribed, Channel: channel})
		return
	}
	c.hub.Unsubscribe(c, channel)
	c.reply(ServerMessage{Type: TypeUnsubscribed, Channel: channel})
}

func (c *Client) handleViewerOpen(ctx context.Context, msg ClientMessage) {
	source, err := status.ParseSource(msg.Source)
	if err != nil {
		c.replyError(fmt.Errorf("%w: %v", estados_errors.ErrInvalidInput, err))
		return
	}
	v, err := c.service.Viewer(ctx, c.UserID)
	if err != nil {
		c.replyError(err)
		return
	}
	c.watch(v)

	st, err := c.service.OpenViewer(ctx, c.UserID, source, msg.UserIndex, msg.StatusIndex)
	if err != nil {
		c.replyError(services.ViewerError(err))
		return
	}
	c.reply(ServerMessage{Type: TypeViewerState, Data: st})
}

func (c *Client) withViewer(ctx context.Context, op func(*viewer.Viewer) error) {
	v, err := c.service.Viewer(ctx, c.UserID)
	if err != nil {
		c.replyError(err)
		return
	}
	c.watch(v)
	if err := op(v); err != nil {
		c.replyError(services.ViewerError(err))
		return
	}
	c.reply(ServerMessage{Type: TypeViewerState, Data: v.Snapshot()})
}

// watch streams every state change of v to this socket. The most recent
// socket to drive a viewer receives its updates.
func (c *Client) watch(v *viewer.Viewer) {
	if c.release != nil {
		c.release()
	}
	c.watching = v
	c.release = v.OnChange(func(st viewer.State) {
		c.reply(ServerMessage{Type: TypeViewerState, Data: st})
	})
}

// unwatch stops streaming. When this socket was still driving the viewer
// nobody is left to see it, so the viewer is closed and its timer stops.
func (c *Client) unwatch() {
	if c.watching == nil {
		return
	}
	if c.release() {
		c.watching.Close()
	}
	c.watching, c.release = nil, nil
}

func (c *Client) reply(msg ServerMessage) {
	c.SendMessage(encode(msg))
}

func (c *Client) replyError(err error) {
	code := httpdto.ErrorCode(services.HTTPStatus(err))
	c.reply(ServerMessage{Type: TypeError, Error: err.Error(), Code: code})
}

// channelFor maps a subscription request to a hub channel. An empty or "*"
// estado id follows the whole table.
func channelFor(table events.Table, estadoID string) (string, error) {
	switch table {
	case events.TableEstados, events.TableViews, events.TableReactions:
	default:
		return "", fmt.Errorf("%w: unknown table %q", estados_errors.ErrInvalidInput, table)
	}
	if estadoID == "" || estadoID == events.AnyEstado {
		return events.Pattern(table, events.AnyEstado), nil
	}
	id, err := uuid.Parse(estadoID)
	if err != nil {
		return "", fmt.Errorf("%w: invalid estado id", estados_errors.ErrInvalidInput)
	}
	return events.Channel(table, id), nil
}
