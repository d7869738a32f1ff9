package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"chatwire/internal/auth"
	"chatwire/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

const (
	readLimit  = 1 << 20 // 1MB
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 是一条已认证的活跃连接。send 只做非阻塞投递，
// 连接关闭后残留的投递是无害空操作，不会 panic 调度方。
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	userID uint
	uname  string
}

func newClient(conn *websocket.Conn, userID uint, uname string) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		userID: userID,
		uname:  uname,
	}
}

// trySend 非阻塞投递；通道满（慢消费者）直接丢弃该接收方。
func (c *Client) trySend(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) sendEvent(typ string, payload interface{}) {
	b, err := json.Marshal(Envelope{Type: typ, Payload: payload})
	if err != nil {
		return
	}
	c.trySend(b)
}

// Serve 处理 WS 握手：升级连接、用 query 里的 token 做会话认证，
// 失败时回一条终态 error 事件并立即断开；成功后登记并进入收发循环。
func Serve(reg *Registry, router *Router, db *gorm.DB, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			authz := c.GetHeader("Authorization")
			if len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
				token = authz[7:]
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		user, err := auth.ResolveToken(db, token, cfg.JWTSecret)
		if err != nil {
			_ = conn.WriteJSON(Envelope{Type: EvtError, Payload: ErrorPayload{Message: err.Error()}})
			_ = conn.Close()
			return
		}

		client := newClient(conn, user.ID, user.Username)
		go client.writePump()
		client.sendEvent(EvtConnected, ConnectedPayload{User: UserInfo{ID: user.ID, Username: user.Username}})
		reg.Register(client)
		router.OnConnect(client)
		client.readPump(reg, router)
	}
}

// readPump 按到达顺序处理该连接的入站事件，连接断开时注销登记。
func (c *Client) readPump(reg *Registry, router *Router) {
	defer func() {
		reg.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		router.HandleRaw(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
