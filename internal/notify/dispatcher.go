package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/TripFlow/TripFlow/internal/common/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreDispatcher 站内信分发：把通知落到 notifications 表。
// 在事务提交之后才会被调用，所以这里用独立连接写入即可。
type StoreDispatcher struct {
	db *gorm.DB
}

func NewStoreDispatcher(db *gorm.DB) *StoreDispatcher {
	return &StoreDispatcher{db: db}
}

func (d *StoreDispatcher) Notify(ctx context.Context, msg Message) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("store dispatcher db is nil")
	}
	n := &Notification{
		ID:     uuid.NewString(),
		UserID: msg.UserID,
		Kind:   msg.Kind,
		Title:  msg.Title,
		Body:   msg.Body,
		Link:   msg.Link,
	}
	return d.db.WithContext(ctx).Create(n).Error
}

// MarkRead 标记站内信为已读（重复标记是 no-op）。只能标记自己的通知。
func (d *StoreDispatcher) MarkRead(ctx context.Context, notificationID, userID string) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("store dispatcher db is nil")
	}
	now := time.Now()
	return d.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", notificationID, userID).
		Update("read_at", now).Error
}

// ListForUser 查询用户的站内信（按时间倒序）。
func (d *StoreDispatcher) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("store dispatcher db is nil")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := d.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var notifications []Notification
	if err := q.Order("created_at desc").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

// WebhookDispatcher 把通知 POST 给外部通知网关（邮件/IM 由网关负责）。
// 外部依赖用熔断器保护，避免网关故障拖垮每次 Flush。
type WebhookDispatcher struct {
	url     string
	client  *http.Client
	breaker *middleware.CircuitBreaker
}

func NewWebhookDispatcher(url string, timeout time.Duration, maxFailures int) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &WebhookDispatcher{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: middleware.NewCircuitBreaker("notify-webhook", maxFailures, 30*time.Second),
	}
}

func (d *WebhookDispatcher) Notify(ctx context.Context, msg Message) error {
	if d == nil || d.url == "" {
		return nil
	}
	return d.breaker.Call(ctx, func() error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("notify webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// multiDispatcher 按顺序分发到多个下游，返回第一个错误（其余仍会执行）。
type multiDispatcher struct {
	targets []Dispatcher
}

// Multi 组合多个 Dispatcher（如站内信 + webhook）。
func Multi(targets ...Dispatcher) Dispatcher {
	return &multiDispatcher{targets: targets}
}

func (m *multiDispatcher) Notify(ctx context.Context, msg Message) error {
	var firstErr error
	for _, t := range m.targets {
		if t == nil {
			continue
		}
		if err := t.Notify(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
