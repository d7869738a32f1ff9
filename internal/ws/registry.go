package ws

import (
	"encoding/json"
	"sync"

	"chatwire/internal/metrics"
)

// UserInfo 在线列表条目。
type UserInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Registry 维护 userID 到唯一活跃连接的映射。不落盘，
// 进程重启后从零开始，所有用户在重连前都视为离线。
// 任何登记变更都会向全体连接推送全量替换式在线列表（不发增量）。
type Registry struct {
	mu    sync.RWMutex
	conns map[uint]*Client
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint]*Client)}
}

// Register 登记连接。同一用户的旧连接被直接顶替，
// 旧 socket 不在这里关闭，只是不再可寻址。
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	_, replaced := r.conns[c.userID]
	r.conns[c.userID] = c
	r.mu.Unlock()
	if !replaced {
		metrics.WsConnections.Inc()
	}
	r.broadcastPresence()
}

// Unregister 仅当当前登记的连接仍是调用者时才移除，
// 避免被顶替连接的迟到 close 把新连接挤下线。
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	cur, ok := r.conns[c.userID]
	if !ok || cur != c {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.userID)
	r.mu.Unlock()
	metrics.WsConnections.Dec()
	r.broadcastPresence()
}

// Lookup 查找某用户的活跃连接。
func (r *Registry) Lookup(userID uint) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// ListAll 返回当前在线用户。
func (r *Registry) ListAll() []UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UserInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, UserInfo{ID: c.userID, Username: c.uname})
	}
	return out
}

// Snapshot 返回全部活跃连接，广播扇出用。
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// broadcastPresence 向每个连接推送完整在线列表。
// 单个连接投递失败只影响它自己，不会中断整轮广播。
func (r *Registry) broadcastPresence() {
	b, err := json.Marshal(Envelope{Type: EvtOnlineUsers, Payload: OnlineUsersPayload{Users: r.ListAll()}})
	if err != nil {
		return
	}
	for _, c := range r.Snapshot() {
		c.trySend(b)
	}
}
