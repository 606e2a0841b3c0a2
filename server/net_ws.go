package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zonearena/protocol"
)

// wsConn gorilla 连接的帧读写包装；二进制编码走二进制帧，JSON 走文本帧
type wsConn struct {
	ws     *websocket.Conn
	binary bool
	wmu    sync.Mutex
}

func newWSConn(ws *websocket.Conn, binary bool) *wsConn {
	c := &wsConn{ws: ws, binary: binary}
	ws.SetReadLimit(1 << 20) // 1MB
	_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(60 * time.Second)) })
	return c
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		typ, b, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		if typ == websocket.BinaryMessage || typ == websocket.TextMessage {
			return b, nil
		}
	}
}

func (c *wsConn) WriteFrame(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	typ := websocket.TextMessage
	if c.binary {
		typ = websocket.BinaryMessage
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(typ, b)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：/ws?match=<id>&codec=binary|json，第一帧必须是 Hello
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	match, err := m.GetOrDefault(r.URL.Query().Get("match"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrMatchNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	codec := protocol.CodecFor(r.URL.Query().Get("codec"))

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Infof("upgrade error: %v", err)
		return
	}
	conn := newWSConn(ws, codec.Binary())
	c, err := match.Accept(conn, codec)
	if err != nil {
		Log.Infof("match %s: handshake from %s failed: %v", match.ID, r.RemoteAddr, err)
		_ = conn.Close()
		return
	}
	Log.Infof("match %s: %s connected from %s", match.ID, c, r.RemoteAddr)
}
