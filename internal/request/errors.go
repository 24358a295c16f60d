package request

import (
	"errors"
	"fmt"

	"github.com/TripFlow/TripFlow/internal/resource"
)

// 引擎错误分类。所有可变更入口同步返回其中之一（或其包装），
// 由表现层统一映射成面向用户的提示；完整错误另行落审计/错误日志。
var (
	// ErrIllegalTransition 当前状态下不允许该流转。
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrUnauthorized 操作者无权执行该阶段/动作。
	ErrUnauthorized = errors.New("actor not authorized")
	// ErrConflictDetected 未确认的资源时间冲突。
	ErrConflictDetected = errors.New("resource conflict detected")
	// ErrValidation 入参校验失败（缺必填项等）。
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 申请/资源不存在或已退役。
	ErrNotFound = errors.New("not found")
	// ErrPersistence 事务无法提交（锁超时等），调用方可原样重试。
	ErrPersistence = errors.New("persistence failure")
)

// ConflictError 冲突详情：指明撞上了哪个申请。
// errors.Is(err, ErrConflictDetected) 成立。
type ConflictError struct {
	Kind                 resource.Kind
	ResourceID           string
	ConflictingRequestID string
	OverlapMinutes       int
	Severity             Severity
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already booked by request %s (overlap %dmin, %s)",
		e.Kind, e.ResourceID, e.ConflictingRequestID, e.OverlapMinutes, e.Severity)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflictDetected
}
