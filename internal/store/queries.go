package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

func (s *Store) CreateUser(ctx context.Context, u User) error {
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, t RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *Store) RefreshToken(ctx context.Context, token string) (RefreshToken, error) {
	var t RefreshToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	return t, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).Delete(&RefreshToken{}, "token = ?", token).Error; err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// PurgeRefreshTokens removes tokens issued before the cutoff. Returns
// the number of rows removed.
func (s *Store) PurgeRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&RefreshToken{}, "created_at < ?", before)
	if res.Error != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) CreateConversation(ctx context.Context, c Conversation) error {
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) Conversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation owned by userID together
// with its messages and their response ledgers.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Conversation
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}
		sub := tx.Model(&Message{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Delete(&AiResponse{}, "message_id IN (?)", sub).Error; err != nil {
			return fmt.Errorf("delete responses: %w", err)
		}
		if err := tx.Delete(&Message{}, "conversation_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Delete(&Conversation{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateMessage(ctx context.Context, m Message) error {
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) Message(ctx context.Context, id string) (Message, error) {
	var m Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *Store) SetMessageStatus(ctx context.Context, id string, status Status) error {
	res := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update message status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateResponse(ctx context.Context, r AiResponse) error {
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

// MaxResponseVersion returns the highest version written for the
// message, and false when no response exists yet.
func (s *Store) MaxResponseVersion(ctx context.Context, messageID string) (int, bool, error) {
	row := s.db.WithContext(ctx).
		Model(&AiResponse{}).
		Where("message_id = ?", messageID).
		Select("MAX(version)").
		Row()
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		return 0, false, fmt.Errorf("max version: %w", err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

// MessagesWithLatest returns the conversation's messages in creation
// order, each paired with its active response: the row with the
// highest version, ties broken by creation time then id so the result
// is deterministic even if a version number was ever written twice.
func (s *Store) MessagesWithLatest(ctx context.Context, conversationID string) ([]MessageWithResponse, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	var resps []AiResponse
	err = s.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("version, created_at, id").
		Find(&resps).Error
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	latest := make(map[string]AiResponse, len(resps))
	for _, r := range resps {
		latest[r.MessageID] = r // rows are sorted, the last one wins
	}

	out := make([]MessageWithResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageWithResponse{Message: m}
		if r, ok := latest[m.ID]; ok {
			r := r
			out[i].AiResponse = &r
		}
	}
	return out, nil
}
