package notify

import (
	"context"
	"time"
)

// Message 一条待发送的通知。
type Message struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"` // request_submitted / approval_required / approved / rejected / ...
	Title  string `json:"title"`
	Body   string `json:"body"`
	Link   string `json:"link"`
}

// Dispatcher 通知分发接口。实现必须是尽力而为的：
// 失败由调用方记日志吞掉，绝不允许影响已提交的业务事务。
type Dispatcher interface {
	Notify(ctx context.Context, msg Message) error
}

// NopDispatcher 空实现（通知未配置时使用）。
type NopDispatcher struct{}

func (NopDispatcher) Notify(ctx context.Context, msg Message) error {
	return nil
}

// Notification 是 notifications 表的 GORM 模型（站内信）。
type Notification struct {
	ID        string     `gorm:"primaryKey;size:36"`
	UserID    string     `gorm:"size:36;index;not null"`
	Kind      string     `gorm:"size:32;index;not null"`
	Title     string     `gorm:"size:255;not null"`
	Body      string     `gorm:"type:text"`
	Link      string     `gorm:"size:255"`
	ReadAt    *time.Time // 已读时间
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
}
