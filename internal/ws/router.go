package ws

import (
	"encoding/json"
	"errors"
	"time"

	"chatwire/internal/metrics"
	"chatwire/internal/models"
	"chatwire/internal/service"

	"github.com/rs/zerolog/log"
)

// Router 是入站事件的状态机：解码、持久化、推进状态、按目标扇出。
// 校验不过的事件静默丢弃；持久化失败只记日志，不影响连接循环。
type Router struct {
	reg        *Registry
	store      *service.MessageService
	users      *service.UserService
	membership MembershipPolicy
}

func NewRouter(reg *Registry, store *service.MessageService, users *service.UserService, membership MembershipPolicy) *Router {
	return &Router{reg: reg, store: store, users: users, membership: membership}
}

// HandleRaw 解包一条入站帧并穷举分发。坏 JSON 与未知类型直接丢弃。
func (r *Router) HandleRaw(c *Client, data []byte) {
	var in inboundEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	kind := parseEventKind(in.Type)
	metrics.WsEventsTotal.WithLabelValues(kind.String()).Inc()
	switch kind {
	case evPrivateMessage:
		r.handlePrivateMessage(c, in.Payload)
	case evReadMessage:
		r.handleReadMessage(c, in.Payload)
	case evEditMessage:
		r.handleEditMessage(c, in.Payload)
	case evDeleteMessage:
		r.handleDeleteMessage(c, in.Payload)
	case evTyping:
		r.handleTyping(c, in.Payload)
	case evJoinRoom:
		r.handleJoinRoom(c, in.Payload)
	case evRoomMessage:
		r.handleRoomMessage(c, in.Payload)
	case evFetchHistory:
		r.handleFetchHistory(c, in.Payload)
	case evUnknown:
	}
}

// OnConnect 在登记完成后把该用户离线期间积压的 sent 私信补推为 delivered，
// 并逐条通知仍在线的发送方。
func (r *Router) OnConnect(c *Client) {
	swept, err := r.store.SweepDelivered(c.userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", c.userID).Msg("sweep delivered")
		return
	}
	for _, m := range swept {
		st := StatusPayload{MessageID: m.ID, Status: models.StatusDelivered}
		c.sendEvent(EvtMessageStatus, st)
		if sc, ok := r.reg.Lookup(m.FromID); ok {
			sc.sendEvent(EvtMessageStatus, st)
		}
	}
}

func (r *Router) handlePrivateMessage(c *Client, raw json.RawMessage) {
	var p PrivateMessagePayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	if p.ToUserID == 0 || (p.Content == "" && p.Image == "") {
		return
	}
	msg, err := r.store.CreatePrivate(c.userID, p.ToUserID, p.Content, p.Image)
	if err != nil {
		r.logPersist(err, c, "private message")
		return
	}
	metrics.WsMessagesTotal.Inc()

	toUsername := ""
	if u, err := r.users.FindByID(p.ToUserID); err == nil {
		toUsername = u.Username
	}
	out := service.ToDTO(msg, c.uname, toUsername)

	// 发送回执
	c.sendEvent(EvtPrivateMessage, out)

	// 接收方在线：推送消息并同步推进到 delivered
	rc, online := r.reg.Lookup(p.ToUserID)
	if !online {
		return
	}
	rc.sendEvent(EvtPrivateMessage, out)
	if err := r.store.MarkDelivered(msg.ID); err != nil {
		r.logPersist(err, c, "mark delivered")
		return
	}
	st := StatusPayload{MessageID: msg.ID, Status: models.StatusDelivered}
	c.sendEvent(EvtMessageStatus, st)
	rc.sendEvent(EvtMessageStatus, st)
}

func (r *Router) handleReadMessage(c *Client, raw json.RawMessage) {
	var p ReadMessagePayload
	if json.Unmarshal(raw, &p) != nil || p.MessageID == 0 {
		return
	}
	// 非接收方、消息不存在或已是 read：无效果，也不回事件
	msg, err := r.store.MarkRead(p.MessageID, c.userID)
	if err != nil {
		r.logPersist(err, c, "mark read")
		return
	}
	st := StatusPayload{MessageID: msg.ID, Status: models.StatusRead}
	c.sendEvent(EvtMessageStatus, st)
	if sc, ok := r.reg.Lookup(msg.FromID); ok {
		sc.sendEvent(EvtMessageStatus, st)
	}
}

func (r *Router) handleEditMessage(c *Client, raw json.RawMessage) {
	var p EditMessagePayload
	if json.Unmarshal(raw, &p) != nil || p.MessageID == 0 || p.NewContent == "" {
		return
	}
	msg, err := r.store.Edit(p.MessageID, c.userID, p.NewContent)
	if err != nil {
		r.logPersist(err, c, "edit message")
		return
	}
	r.fanoutParties(c, msg, EvtMessageEdited, EditedPayload{MessageID: msg.ID, NewContent: msg.Content, Edited: true})
}

func (r *Router) handleDeleteMessage(c *Client, raw json.RawMessage) {
	var p DeleteMessagePayload
	if json.Unmarshal(raw, &p) != nil || p.MessageID == 0 {
		return
	}
	msg, err := r.store.Delete(p.MessageID, c.userID)
	if err != nil {
		r.logPersist(err, c, "delete message")
		return
	}
	r.fanoutParties(c, msg, EvtMessageDeleted, DeletedPayload{MessageID: msg.ID})
}

// fanoutParties 把编辑/删除事件推给消息的所有相关方：
// 私聊是发送方加在线的接收方，房间消息是房间的在线集合。
func (r *Router) fanoutParties(c *Client, msg *models.Message, typ string, payload interface{}) {
	if msg.ToUserID != nil {
		c.sendEvent(typ, payload)
		if rc, ok := r.reg.Lookup(*msg.ToUserID); ok {
			rc.sendEvent(typ, payload)
		}
		return
	}
	for _, target := range r.membership.Resolve(r.reg, nil) {
		target.sendEvent(typ, payload)
	}
}

func (r *Router) handleTyping(c *Client, raw json.RawMessage) {
	var p TypingPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	out := TypingPayload{
		ToUserID:     p.ToUserID,
		RoomID:       p.RoomID,
		IsTyping:     p.IsTyping,
		From:         c.userID,
		FromUsername: c.uname,
	}
	switch {
	case p.ToUserID != 0:
		if rc, ok := r.reg.Lookup(p.ToUserID); ok {
			rc.sendEvent(EvtTyping, out)
		}
	case p.RoomID != "":
		for _, target := range r.membership.Resolve(r.reg, nil) {
			if target.userID == c.userID {
				continue
			}
			target.sendEvent(EvtTyping, out)
		}
	}
}

func (r *Router) handleJoinRoom(c *Client, raw json.RawMessage) {
	var p JoinRoomPayload
	if json.Unmarshal(raw, &p) != nil || p.RoomID == "" {
		return
	}
	c.sendEvent(EvtJoinedRoom, JoinedRoomPayload{RoomID: p.RoomID})
	notif := RoomNotificationPayload{
		RoomID:    p.RoomID,
		Message:   c.uname + " joined the room",
		CreatedAt: time.Now(),
	}
	for _, target := range r.reg.Snapshot() {
		target.sendEvent(EvtRoomNotification, notif)
	}
}

func (r *Router) handleRoomMessage(c *Client, raw json.RawMessage) {
	var p RoomMessagePayload
	if json.Unmarshal(raw, &p) != nil || p.RoomID == "" || p.Content == "" {
		return
	}
	msg, err := r.store.CreateRoom(c.userID, p.RoomID, p.Content)
	if err != nil {
		r.logPersist(err, c, "room message")
		return
	}
	metrics.WsMessagesTotal.Inc()
	out := service.ToDTO(msg, c.uname, "")
	for _, target := range r.membership.Resolve(r.reg, p.Members) {
		target.sendEvent(EvtRoomMessage, out)
	}
}

func (r *Router) handleFetchHistory(c *Client, raw json.RawMessage) {
	var p FetchHistoryPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	switch {
	case p.Mode == "private" && p.WithUserID != 0:
		msgs, err := r.store.HistoryPrivate(c.userID, p.WithUserID, p.Limit)
		if err != nil {
			r.logPersist(err, c, "history private")
			return
		}
		c.sendEvent(EvtHistoryPrivate, HistoryPrivatePayload{WithUserID: p.WithUserID, Messages: msgs})
	case p.Mode == "room" && p.RoomID != "":
		msgs, err := r.store.HistoryRoom(p.RoomID, p.Limit)
		if err != nil {
			r.logPersist(err, c, "history room")
			return
		}
		c.sendEvent(EvtHistoryRoom, HistoryRoomPayload{RoomID: p.RoomID, Messages: msgs})
	}
}

// logPersist 区分校验失败与持久化失败：前者按协议静默丢弃，
// 后者记日志后放弃本事件，连接循环继续。
func (r *Router) logPersist(err error, c *Client, op string) {
	if errors.Is(err, service.ErrInvalidMessage) || errors.Is(err, service.ErrNotAllowed) {
		return
	}
	log.Error().Err(err).Uint("user_id", c.userID).Msg(op)
}
