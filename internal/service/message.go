package service

import (
	"errors"
	"time"

	"chatwire/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装消息的持久化与状态流转。
// 状态推进全部带 WHERE 守卫，保证 sent -> delivered -> read 不回退。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是推给客户端的消息数据，历史回放与实时推送共用。
type MessageDTO struct {
	MessageID    uint      `json:"messageId"`
	From         uint      `json:"from"`
	FromUsername string    `json:"fromUsername"`
	ToUserID     *uint     `json:"toUserId,omitempty"`
	ToUsername   string    `json:"toUsername,omitempty"`
	RoomID       *string   `json:"roomId,omitempty"`
	Content      string    `json:"content"`
	Image        string    `json:"image,omitempty"`
	Status       string    `json:"status"`
	Edited       bool      `json:"edited"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreatePrivate 落库一条私聊消息，初始状态 sent。
// 文本和图片至少要有一个，收发双方互斥校验由 ToUserID/RoomID 二选一保证。
func (s *MessageService) CreatePrivate(from, to uint, content, imageURL string) (*models.Message, error) {
	if to == 0 || (content == "" && imageURL == "") {
		return nil, ErrInvalidMessage
	}
	msg := models.Message{FromID: from, ToUserID: &to, Content: content, ImageURL: imageURL, Status: models.StatusSent}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateRoom 落库一条房间消息。房间只是字符串 id，没有持久化实体。
func (s *MessageService) CreateRoom(from uint, roomID, content string) (*models.Message, error) {
	if roomID == "" || content == "" {
		return nil, ErrInvalidMessage
	}
	msg := models.Message{FromID: from, RoomID: &roomID, Content: content, Status: models.StatusSent}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkDelivered 仅在消息仍为 sent 时推进到 delivered。
func (s *MessageService) MarkDelivered(id uint) error {
	res := s.db.Model(&models.Message{}).
		Where("id = ? AND status = ?", id, models.StatusSent).
		Update("status", models.StatusDelivered)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotAllowed
	}
	return nil
}

// MarkRead 由接收方把消息推进到 read。非接收方调用或已是 read 都不生效。
func (s *MessageService) MarkRead(id, reader uint) (*models.Message, error) {
	res := s.db.Model(&models.Message{}).
		Where("id = ? AND to_user_id = ? AND status <> ?", id, reader, models.StatusRead).
		Update("status", models.StatusRead)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotAllowed
	}
	var msg models.Message
	if err := s.db.First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// SweepDelivered 把某用户离线期间积压的 sent 私信批量推进到 delivered，
// 返回被推进的消息供调用方逐条通知发送方。
func (s *MessageService) SweepDelivered(to uint) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.Where("to_user_id = ? AND status = ?", to, models.StatusSent).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := s.db.Model(&models.Message{}).
		Where("id IN ? AND status = ?", ids, models.StatusSent).
		Update("status", models.StatusDelivered).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Edit 由发送方改写消息内容并打上 edited 标记。
func (s *MessageService) Edit(id, sender uint, newContent string) (*models.Message, error) {
	if newContent == "" {
		return nil, ErrInvalidMessage
	}
	res := s.db.Model(&models.Message{}).
		Where("id = ? AND from_id = ?", id, sender).
		Updates(map[string]interface{}{"content": newContent, "edited": true})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotAllowed
	}
	var msg models.Message
	if err := s.db.First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// Delete 由发送方永久删除消息，返回删除前的记录供路由扇出。
func (s *MessageService) Delete(id, sender uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Where("id = ? AND from_id = ?", id, sender).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAllowed
		}
		return nil, err
	}
	if err := s.db.Delete(&models.Message{}, msg.ID).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// HistoryPrivate 返回 a 与 b 之间的私聊记录：取最新 n 条，按时间升序输出。
// limit 不传时取 50，上限 200。
func (s *MessageService) HistoryPrivate(a, b uint, limit int) ([]MessageDTO, error) {
	q := s.db.Where("(from_id = ? AND to_user_id = ?) OR (from_id = ? AND to_user_id = ?)", a, b, b, a)
	return s.history(q, limit)
}

// HistoryRoom 返回房间的消息记录，截断语义与 HistoryPrivate 一致。
func (s *MessageService) HistoryRoom(roomID string, limit int) ([]MessageDTO, error) {
	return s.history(s.db.Where("room_id = ?", roomID), limit)
}

func (s *MessageService) history(q *gorm.DB, limit int) ([]MessageDTO, error) {
	if limit <= 0 {
		limit = 50
	} else if limit > 200 {
		limit = 200
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	usernames, err := s.resolveUsernames(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToDTO(&m, usernames[m.FromID], toUsername(&m, usernames)))
	}
	return out, nil
}

// ToDTO 把持久化记录转成推送数据。
func ToDTO(m *models.Message, fromUsername, toUsername string) MessageDTO {
	return MessageDTO{
		MessageID:    m.ID,
		From:         m.FromID,
		FromUsername: fromUsername,
		ToUserID:     m.ToUserID,
		ToUsername:   toUsername,
		RoomID:       m.RoomID,
		Content:      m.Content,
		Image:        m.ImageURL,
		Status:       m.Status,
		Edited:       m.Edited,
		CreatedAt:    m.CreatedAt,
	}
}

func toUsername(m *models.Message, usernames map[uint]string) string {
	if m.ToUserID == nil {
		return ""
	}
	return usernames[*m.ToUserID]
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	add := func(id uint) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		userIDs = append(userIDs, id)
	}
	for _, m := range msgs {
		add(m.FromID)
		if m.ToUserID != nil {
			add(*m.ToUserID)
		}
	}

	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}
