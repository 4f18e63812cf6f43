package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/AvatarCall/internal/domain"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrSignalClosed     = errors.New("signaling connection closed")
	ErrBadCallURL       = errors.New("conversation url has no room")
	errSignalConnClosed = errors.New("connection closed")
)

// Message types of the signaling dialect.
const (
	msgJoin          = "join"
	msgOffer         = "offer"
	msgAnswer        = "answer"
	msgCandidate     = "candidate"
	msgLeave         = "leave"
	msgScreenShare   = "screen_share"
	msgRoomState     = "room_state"
	msgMemberJoined  = "member_joined"
	msgMemberUpdated = "member_updated"
	msgMemberLeft    = "member_left"
	msgLeft          = "left"
	msgError         = "error"
)

type signalMessage struct {
	Type      string                   `json:"type"`
	Room      string                   `json:"room,omitempty"`
	Name      string                   `json:"name,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Member    *memberInfo              `json:"member,omitempty"`
	Members   []memberInfo             `json:"members,omitempty"`
	Active    *bool                    `json:"active,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

type memberInfo struct {
	ID     domain.ParticipantID                   `json:"id"`
	Name   string                                 `json:"name"`
	Tracks map[domain.TrackKind]domain.TrackState `json:"tracks,omitempty"`
}

// signalURL maps a conversation URL to the signaling websocket endpoint and room.
func signalURL(conversation domain.ConversationURL, signalPath string) (string, string, error) {
	u, err := url.Parse(string(conversation))
	if err != nil {
		return "", "", fmt.Errorf("parse conversation url: %w", err)
	}
	room := path.Base(strings.TrimRight(u.Path, "/"))
	if u.Host == "" || room == "." || room == "/" || room == "" {
		return "", "", ErrBadCallURL
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = signalPath
	q := url.Values{}
	q.Set("room", room)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), room, nil
}

type signalConn struct {
	conn    *websocket.Conn
	send    chan []byte
	drained chan struct{}
	logger  zerolog.Logger

	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	running bool
	cancel  context.CancelFunc
}

func newSignalConn(conn *websocket.Conn, writeTimeout time.Duration, logger zerolog.Logger) *signalConn {
	return &signalConn{
		conn:         conn,
		send:         make(chan []byte, 32),
		drained:      make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (c *signalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errSignalConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *signalConn) sendJSON(m signalMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.TrySend(b); err != nil {
		c.logger.Warn().Err(err).Str("type", m.Type).Msg("signal not sent")
		return err
	}
	return nil
}

// Close stops accepting messages, lets the write pump flush what is queued
// until ctx expires, then closes the socket.
func (c *signalConn) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	running := c.running
	c.mu.Unlock()

	if running {
		select {
		case <-c.drained:
		case <-ctx.Done():
		}
		c.cancel()
	}
	_ = c.conn.Close()
}

// run starts the pumps. They stop once the socket is closed.
func (c *signalConn) run(handle func(signalMessage), onDone func()) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()
	go c.writePump(ctx)
	go c.readPump(handle, onDone)
}

func (c *signalConn) writePump(ctx context.Context) {
	defer close(c.drained)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.writeTimeout))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump decodes messages until the socket fails, then calls onDone.
func (c *signalConn) readPump(handle func(signalMessage), onDone func()) {
	defer onDone()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("readPump closing")
			return
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			c.logger.Error().Err(err).Msg("bad json")
			continue
		}
		handle(m)
	}
}
