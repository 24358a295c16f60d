package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry 是 audit_logs 表的 GORM 模型。只追加，不修改不删除。
type Entry struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Action     string    `gorm:"size:32;index;not null"` // submit / approve / reject / cancel / complete / override ...
	EntityType string    `gorm:"size:32;index;not null"`
	EntityID   string    `gorm:"size:36;index;not null"`
	Before     string    `gorm:"type:json"` // 变更前快照（JSON）
	After      string    `gorm:"type:json"` // 变更后快照（JSON）
	ActorID    string    `gorm:"size:36;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

func (Entry) TableName() string {
	return "audit_logs"
}

// Recorder 审计记录器：在业务事务内写入 before/after 快照。
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record 在 tx 内追加一条审计记录。快照序列化失败视为写入失败，
// 会让整个事务回滚，审计与业务变更同生共死。
func (r *Recorder) Record(tx *gorm.DB, actorID, action, entityType, entityID string, before, after interface{}) error {
	if tx == nil {
		return fmt.Errorf("audit tx is nil")
	}

	beforeJSON, err := marshalSnapshot(before)
	if err != nil {
		return fmt.Errorf("failed to marshal before snapshot: %w", err)
	}
	afterJSON, err := marshalSnapshot(after)
	if err != nil {
		return fmt.Errorf("failed to marshal after snapshot: %w", err)
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     beforeJSON,
		After:      afterJSON,
		ActorID:    actorID,
	}
	return tx.Create(entry).Error
}

// ListForEntity 查询某实体的审计历史（按时间正序）。
func (r *Recorder) ListForEntity(db *gorm.DB, entityType, entityID string) ([]Entry, error) {
	if db == nil {
		return nil, fmt.Errorf("audit db is nil")
	}
	var entries []Entry
	if err := db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func marshalSnapshot(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
