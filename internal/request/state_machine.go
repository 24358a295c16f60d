package request

import (
	"fmt"
	"time"
)

// AllowTransition 定义申请状态机的允许流转关系。
// 单一权威流转表：两套历史部署里互相矛盾的取消/完成规则以此为准。
var AllowTransition = map[Status][]Status{
	StatusDraft:            {StatusPending, StatusCancelled},
	StatusPending:          {StatusPendingMotorpool, StatusRejected, StatusRevision, StatusCancelled},
	StatusPendingMotorpool: {StatusApproved, StatusRejected, StatusRevision, StatusCancelled},
	StatusRevision:         {StatusPending, StatusPendingMotorpool, StatusCancelled},
	// approved 的自环对应改派（override）：状态不变，资源重新分配
	StatusApproved: {StatusApproved, StatusCancelled, StatusCompleted},
	// 终态：rejected / cancelled / completed 不允许再流转
	StatusRejected:  {},
	StatusCancelled: {},
	StatusCompleted: {},
}

// CanTransition 判断 from -> to 是否是一个允许的状态流转。
func CanTransition(from, to Status) bool {
	allowed, ok := AllowTransition[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyTransition 对申请应用状态变更，并维护关键时间字段。
func ApplyTransition(r *Request, to Status, now time.Time) error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	from := r.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	r.Status = to

	switch to {
	case StatusCancelled:
		if r.CancelledAt == nil {
			t := now
			r.CancelledAt = &t
		}
	case StatusPending, StatusPendingMotorpool:
		// 重新进入审批阶段后清除打回标记
		if from == StatusRevision {
			r.RevisionStage = ""
		}
	}
	return nil
}

// StageForDecisionRouting 返回打回阶段重提后应回到的状态。
func StageForDecisionRouting(stage Stage) (Status, error) {
	switch stage {
	case StageDepartment:
		return StatusPending, nil
	case StageMotorpool:
		return StatusPendingMotorpool, nil
	default:
		return "", fmt.Errorf("%w: unknown revision stage %q", ErrIllegalTransition, stage)
	}
}

// expectedStatusForStage 某审批阶段动作要求的当前状态。
func expectedStatusForStage(stage Stage) (Status, error) {
	switch stage {
	case StageDepartment:
		return StatusPending, nil
	case StageMotorpool:
		return StatusPendingMotorpool, nil
	default:
		return "", fmt.Errorf("%w: unknown approval stage %q", ErrValidation, stage)
	}
}
