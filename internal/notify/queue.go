package notify

import (
	"context"

	"github.com/TripFlow/TripFlow/internal/common/logger"
)

// Queue 延迟通知队列：业务事务执行过程中只收集，
// 事务提交成功后由协调方统一 Flush；回滚则 Discard。
// 保证“收到关于状态 X 的通知，意味着 X 已经持久化提交”。
//
// 队列只在单次事务的调用栈内使用，不做并发保护。
type Queue struct {
	pending []Message
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add 入队一条通知（不发送）。
func (q *Queue) Add(userID, kind, title, body, link string) {
	if q == nil || userID == "" {
		return
	}
	q.pending = append(q.pending, Message{
		UserID: userID,
		Kind:   kind,
		Title:  title,
		Body:   body,
		Link:   link,
	})
}

// Len 当前待发送条数。
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.pending)
}

// Flush 逐条分发并清空队列。单条失败记日志后继续，
// 不重试也不向调用方返回错误。
func (q *Queue) Flush(ctx context.Context, d Dispatcher, log logger.Logger) {
	if q == nil || d == nil {
		return
	}
	for _, msg := range q.pending {
		if err := d.Notify(ctx, msg); err != nil && log != nil {
			log.WithFields(map[string]interface{}{
				"user_id": msg.UserID,
				"kind":    msg.Kind,
			}).Warnf("failed to dispatch notification: %v", err)
		}
	}
	q.pending = nil
}

// Discard 丢弃所有未发送的通知（事务回滚时调用）。
func (q *Queue) Discard() {
	if q == nil {
		return
	}
	q.pending = nil
}
