package history

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/voiceflow/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChatMessage is the chat_messages row.
type ChatMessage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"size:64;not null;uniqueIndex:idx_chat_messages_turn_role,priority:1;index:idx_chat_messages_session,priority:1"`
	TurnID      string    `gorm:"size:64;not null;uniqueIndex:idx_chat_messages_turn_role,priority:2"`
	UserID      string    `gorm:"size:64;not null;default:''"`
	CharacterID string    `gorm:"size:64;not null;default:''"`
	Role        string    `gorm:"size:16;not null;uniqueIndex:idx_chat_messages_turn_role,priority:3"`
	Seq         int       `gorm:"not null;default:0;uniqueIndex:idx_chat_messages_turn_role,priority:4"`
	Content     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_chat_messages_session,priority:2"`
}

// TableName implements gorm's tabler.
func (ChatMessage) TableName() string { return "chat_messages" }

// TurnReportRow is the turn_reports row.
type TurnReportRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID     string `gorm:"size:64;not null;index"`
	TurnID        string `gorm:"size:64;not null;uniqueIndex"`
	Outcome       string `gorm:"size:16;not null"`
	HasErrors     bool   `gorm:"not null"`
	FirstChunkMs  int64
	FirstAudioMs  int64
	TotalMs       int64
	ChunkCount    int
	TagEventCount int
	TokenEstimate int
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (TurnReportRow) TableName() string { return "turn_reports" }

// GormStore is the relational Store backed by the database pool.
type GormStore struct {
	pool    *database.PoolManager
	retries int
	logger  *zap.Logger
}

// NewGormStore creates a store. retries bounds transaction retries on
// transient database errors.
func NewGormStore(pool *database.PoolManager, retries int, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries < 1 {
		retries = 1
	}
	return &GormStore{
		pool:    pool,
		retries: retries,
		logger:  logger.With(zap.String("component", "history_store")),
	}
}

// AutoMigrate creates the tables through gorm, for sqlite and tests. Production
// schemas come from the migrate subcommand.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(&ChatMessage{}, &TurnReportRow{})
}

// Append writes one line inside a retried transaction.
func (s *GormStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row := ChatMessage{
		SessionID:   entry.SessionID,
		TurnID:      entry.TurnID,
		UserID:      entry.UserID,
		CharacterID: entry.CharacterID,
		Role:        string(entry.Role),
		Seq:         entry.Seq,
		Content:     entry.Content,
		CreatedAt:   entry.CreatedAt,
	}

	err := s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		s.logger.Error("history append failed",
			zap.String("session_id", entry.SessionID),
			zap.String("turn_id", entry.TurnID),
			zap.String("role", string(entry.Role)),
			zap.Error(err),
		)
		return fmt.Errorf("append %s history for turn %s: %w", entry.Role, entry.TurnID, err)
	}

	s.logger.Debug("history appended",
		zap.String("session_id", entry.SessionID),
		zap.String("turn_id", entry.TurnID),
		zap.String("role", string(entry.Role)),
		zap.Uint64("id", row.ID),
	)
	return nil
}

// List returns the newest limit lines of a session in chronological order.
func (s *GormStore) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ChatMessage
	err := s.pool.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history for session %s: %w", sessionID, err)
	}

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = Entry{
			SessionID:   r.SessionID,
			TurnID:      r.TurnID,
			UserID:      r.UserID,
			CharacterID: r.CharacterID,
			Role:        Role(r.Role),
			Seq:         r.Seq,
			Content:     r.Content,
			CreatedAt:   r.CreatedAt,
		}
	}
	return out, nil
}

// HasTurn reports whether chat_messages or turn_reports already hold the turn.
func (s *GormStore) HasTurn(ctx context.Context, sessionID, turnID string) (bool, error) {
	db := s.pool.DB().WithContext(ctx)

	var n int64
	if err := db.Model(&ChatMessage{}).
		Where("session_id = ? AND turn_id = ?", sessionID, turnID).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("look up turn %s: %w", turnID, err)
	}
	if n > 0 {
		return true, nil
	}
	// turn_reports.turn_id 全局唯一
	if err := db.Model(&TurnReportRow{}).
		Where("turn_id = ?", turnID).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("look up turn report %s: %w", turnID, err)
	}
	return n > 0, nil
}

// SaveReport stores the turn report.
func (s *GormStore) SaveReport(ctx context.Context, report TurnReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	row := TurnReportRow{
		SessionID:     report.SessionID,
		TurnID:        report.TurnID,
		Outcome:       report.Outcome,
		HasErrors:     report.HasErrors,
		FirstChunkMs:  report.FirstChunkMs,
		FirstAudioMs:  report.FirstAudioMs,
		TotalMs:       report.TotalMs,
		ChunkCount:    report.ChunkCount,
		TagEventCount: report.TagEventCount,
		TokenEstimate: report.TokenEstimate,
		CreatedAt:     report.CreatedAt,
	}
	if err := s.pool.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save report for turn %s: %w", report.TurnID, err)
	}
	return nil
}
