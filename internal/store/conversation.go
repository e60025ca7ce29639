package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/tokenbudget/internal/database"
	"github.com/BaSui01/tokenbudget/types"
)

// Conversation 会话元数据
type Conversation struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Title        string    `gorm:"not null;default:''" json:"title"`
	Model        string    `gorm:"not null;default:''" json:"model"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
	MessageCount int64     `gorm:"-" json:"message_count"`
}

// TableName 返回表名
func (Conversation) TableName() string { return "conversations" }

// MessageRecord 一条持久化消息
type MessageRecord struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ConversationID string    `gorm:"size:36;not null;uniqueIndex:idx_conversation_messages_seq,priority:1"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_conversation_messages_seq,priority:2"`
	Role           string    `gorm:"size:32;not null"`
	Content        string    `gorm:"type:text;not null"`
	Tokens         int       `gorm:"not null;default:0"`
	IsCompressed   bool      `gorm:"not null;default:false"`
	IsSummary      bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName 返回表名
func (MessageRecord) TableName() string { return "conversation_messages" }

func (r MessageRecord) toMessage() types.Message {
	return types.Message{
		Role:         types.Role(r.Role),
		Content:      r.Content,
		Tokens:       r.Tokens,
		IsCompressed: r.IsCompressed,
		IsSummary:    r.IsSummary,
	}
}

// Counter 写入消息时使用的计数能力
type Counter interface {
	Count(ctx context.Context, text, model string) types.TokenCount
}

// ConversationStore 基于 gorm 的会话存储
type ConversationStore struct {
	pool    *database.PoolManager
	counter Counter
	logger  *zap.Logger
	now     func() time.Time

	maxRetries int
}

// NewConversationStore creates a store on pool. counter may be nil, in which
// case stored token counts are taken from the input messages.
func NewConversationStore(pool *database.PoolManager, counter Counter, logger *zap.Logger) *ConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationStore{
		pool:       pool,
		counter:    counter,
		logger:     logger.With(zap.String("component", "conversation_store")),
		now:        time.Now,
		maxRetries: 3,
	}
}

func (s *ConversationStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// AutoMigrate 创建会话与消息表
func (s *ConversationStore) AutoMigrate(ctx context.Context) error {
	return s.db(ctx).AutoMigrate(&Conversation{}, &MessageRecord{})
}

// CreateConversation 创建会话，model 决定后续消息的计数方式
func (s *ConversationStore) CreateConversation(ctx context.Context, title, model string) (*Conversation, error) {
	now := s.now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db(ctx).Create(conv).Error; err != nil {
		return nil, storageError("create conversation", err)
	}
	s.logger.Debug("conversation created", zap.String("conversation_id", conv.ID), zap.String("model", model))
	return conv, nil
}

// GetConversation 读取会话及其消息数
func (s *ConversationStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db(ctx).Where("id = ?", id).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageError("get conversation", err)
	}
	if err := s.db(ctx).Model(&MessageRecord{}).
		Where("conversation_id = ?", id).
		Count(&conv.MessageCount).Error; err != nil {
		return nil, storageError("count messages", err)
	}
	return &conv, nil
}

// ListConversations 按更新时间倒序分页列出会话
func (s *ConversationStore) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var convs []Conversation
	err := s.db(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, storageError("list conversations", err)
	}
	return convs, nil
}

// ListMessages 按 seq 顺序返回会话消息。会话不存在时返回 NOT_FOUND。
func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	if _, err := s.lookup(ctx, s.db(ctx), conversationID); err != nil {
		return nil, err
	}

	var rows []MessageRecord
	err := s.db(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageError("list messages", err)
	}

	msgs := make([]types.Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.toMessage()
	}
	return msgs, nil
}

// AppendMessages 追加消息到会话末尾，返回带 Token 数的消息
func (s *ConversationStore) AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) ([]types.Message, error) {
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}

	var stored []types.Message
	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		conv, err := s.lookup(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		var next int
		if err := tx.Model(&MessageRecord{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&next).Error; err != nil {
			return err
		}

		records, out := s.records(ctx, conv, msgs, next+1)
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		stored = out
		return touch(tx, conversationID, s.now())
	})
	if err != nil {
		return nil, asStorageError("append messages", err)
	}

	s.logger.Debug("messages appended",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(stored)),
	)
	return stored, nil
}

// ReplaceMessages 用 msgs 整体替换会话消息，用于落地压缩结果
func (s *ConversationStore) ReplaceMessages(ctx context.Context, conversationID string, msgs []types.Message) error {
	if err := validateMessages(msgs); err != nil {
		return err
	}

	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		conv, err := s.lookup(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		records, _ := s.records(ctx, conv, msgs, 1)
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		return touch(tx, conversationID, s.now())
	})
	if err != nil {
		return asStorageError("replace messages", err)
	}

	s.logger.Info("conversation messages replaced",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(msgs)),
	)
	return nil
}

// DeleteConversation 删除会话及其消息
func (s *ConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", conversationID).Delete(&Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound(conversationID)
		}
		return nil
	})
	if err != nil {
		return asStorageError("delete conversation", err)
	}
	return nil
}

func (s *ConversationStore) lookup(ctx context.Context, tx *gorm.DB, id string) (*Conversation, error) {
	var conv Conversation
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageError("get conversation", err)
	}
	return &conv, nil
}

// records 构造待写入的行。有计数器时按会话模型重算 Token。
func (s *ConversationStore) records(ctx context.Context, conv *Conversation, msgs []types.Message, startSeq int) ([]MessageRecord, []types.Message) {
	now := s.now().UTC()
	records := make([]MessageRecord, len(msgs))
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		if s.counter != nil {
			m.Tokens = s.counter.Count(ctx, m.Content, conv.Model).Tokens
		}
		records[i] = MessageRecord{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Seq:            startSeq + i,
			Role:           string(m.Role),
			Content:        m.Content,
			Tokens:         m.Tokens,
			IsCompressed:   m.IsCompressed,
			IsSummary:      m.IsSummary,
			CreatedAt:      now,
		}
		out[i] = m
	}
	return records, out
}

func touch(tx *gorm.DB, id string, now time.Time) error {
	return tx.Model(&Conversation{}).Where("id = ?", id).Update("updated_at", now.UTC()).Error
}

func validateMessages(msgs []types.Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return types.NewInvalidRequestError(fmt.Sprintf("message %d: invalid role %q", i, m.Role))
		}
	}
	return nil
}

func notFound(id string) *types.Error {
	return types.NewNotFoundError(fmt.Sprintf("conversation %q not found", id))
}

func storageError(op string, err error) *types.Error {
	return types.NewError(types.ErrStorageError, op+" failed").
		WithCause(err).
		WithHTTPStatus(500).
		WithRetryable(true)
}

// asStorageError 保留事务内已分类的错误，其余包装为 STORAGE_ERROR
func asStorageError(op string, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return te
	}
	return storageError(op, err)
}
