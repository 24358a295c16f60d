package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TripFlow/TripFlow/internal/audit"
	"github.com/TripFlow/TripFlow/internal/common/logger"
	"github.com/TripFlow/TripFlow/internal/notify"
	"github.com/TripFlow/TripFlow/internal/resource"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 角色常量（显式传入引擎，不依赖任何会话上下文）。
const (
	RoleAdmin     = "admin"
	RoleApprover  = "approver"
	RoleMotorpool = "motorpool"
	RoleRequester = "requester"
)

// Actor 执行操作的用户身份。
type Actor struct {
	ID    string
	Roles []string
}

// Has 判断 actor 是否持有指定角色。
func (a Actor) Has(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

const entityTypeRequest = "request"

// Service 封装申请生命周期的核心用例（不依赖 HTTP），
// 同时承担分配事务协调：每个变更入口在单个事务内完成
// 锁申请行 -> 复核流转合法性 -> 台账占用/释放 -> 持久化 ->
// 追加审批/分配记录 -> 写审计，提交成功后才统一发送延迟通知。
type Service struct {
	db         *gorm.DB
	repo       *Repo
	ledger     *resource.Ledger
	auditor    *audit.Recorder
	dispatcher notify.Dispatcher
	log        logger.Logger
}

func NewService(db *gorm.DB, dispatcher notify.Dispatcher, log logger.Logger) *Service {
	if dispatcher == nil {
		dispatcher = notify.NopDispatcher{}
	}
	return &Service{
		db:         db,
		repo:       NewRepo(db),
		ledger:     resource.NewLedger(),
		auditor:    audit.NewRecorder(),
		dispatcher: dispatcher,
		log:        log,
	}
}

// Repo 暴露只读仓储（列表/详情等查询入口）。
func (s *Service) Repo() *Repo {
	return s.repo
}

// SubmitRequestInput 提交用车申请的入参。
type SubmitRequestInput struct {
	RequesterID     string
	DepartmentID    string
	ApproverID      string
	MotorpoolHeadID string

	VehicleID         string // 可选：意向车辆
	RequestedDriverID string // 可选：期望司机

	StartAt        time.Time
	EndAt          time.Time
	Purpose        string
	Destination    string
	PassengerCount int
	Notes          string
	Passengers     []PassengerInput
}

// PassengerInput 随行乘客。
type PassengerInput struct {
	UserID string
	Name   string
}

// SubmitRequest 创建申请（初始状态 pending），写入乘客关联，
// 提交后通知部门审批人。
func (s *Service) SubmitRequest(ctx context.Context, in SubmitRequestInput) (*Request, error) {
	if err := validateSubmit(in); err != nil {
		return nil, err
	}

	req := &Request{
		ID:                uuid.NewString(),
		RequesterID:       strings.TrimSpace(in.RequesterID),
		DepartmentID:      strings.TrimSpace(in.DepartmentID),
		ApproverID:        strings.TrimSpace(in.ApproverID),
		MotorpoolHeadID:   strings.TrimSpace(in.MotorpoolHeadID),
		VehicleID:         strings.TrimSpace(in.VehicleID),
		RequestedDriverID: strings.TrimSpace(in.RequestedDriverID),
		Status:            StatusPending,
		StartAt:           in.StartAt,
		EndAt:             in.EndAt,
		Purpose:           strings.TrimSpace(in.Purpose),
		Destination:       strings.TrimSpace(in.Destination),
		PassengerCount:    in.PassengerCount,
		Notes:             strings.TrimSpace(in.Notes),
	}
	if req.PassengerCount <= 0 {
		req.PassengerCount = 1
	}

	queue := notify.NewQueue()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		for _, p := range in.Passengers {
			name := strings.TrimSpace(p.Name)
			if name == "" {
				continue
			}
			passenger := &Passenger{
				ID:        uuid.NewString(),
				RequestID: req.ID,
				UserID:    strings.TrimSpace(p.UserID),
				Name:      name,
			}
			if err := tx.Create(passenger).Error; err != nil {
				return err
			}
		}
		if err := s.auditor.Record(tx, req.RequesterID, "submit", entityTypeRequest, req.ID, nil, req); err != nil {
			return err
		}

		queue.Add(req.ApproverID, "approval_required", "新的用车申请待审批",
			fmt.Sprintf("%s 提交了 %s 至 %s 的用车申请", req.RequesterID, fmtTime(req.StartAt), fmtTime(req.EndAt)),
			requestLink(req.ID))
		queue.Add(req.RequesterID, "request_submitted", "用车申请已提交",
			"申请已进入部门审批阶段", requestLink(req.ID))
		return nil
	})
	if err != nil {
		queue.Discard()
		return nil, s.classify(err)
	}

	queue.Flush(ctx, s.dispatcher, s.log)
	return req, nil
}

// AssignmentInput 车管批准时的派车信息。
type AssignmentInput struct {
	VehicleID           string
	DriverID            string
	OverrideConflictAck bool // 调用方已确认冲突仍要强行派车
}

// ApprovalInput 审批动作入参。
type ApprovalInput struct {
	Stage      Stage
	Decision   Decision
	Comments   string
	Assignment *AssignmentInput // 仅车管阶段 approve 需要
}

// ActOnApproval 驱动 pending / pending_motorpool 的审批流转。
func (s *Service) ActOnApproval(ctx context.Context, requestID string, actor Actor, in ApprovalInput) (*Request, error) {
	expected, err := expectedStatusForStage(in.Stage)
	if err != nil {
		return nil, err
	}
	if in.Decision != DecisionApproved && in.Decision != DecisionRejected && in.Decision != DecisionRevision {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, in.Decision)
	}
	// 驳回/打回必须给出意见
	if in.Decision != DecisionApproved && strings.TrimSpace(in.Comments) == "" {
		return nil, fmt.Errorf("%w: comments required for %s", ErrValidation, in.Decision)
	}
	if in.Stage == StageMotorpool && in.Decision == DecisionApproved {
		if in.Assignment == nil ||
			strings.TrimSpace(in.Assignment.VehicleID) == "" ||
			strings.TrimSpace(in.Assignment.DriverID) == "" {
			return nil, fmt.Errorf("%w: vehicle and driver required for motorpool approval", ErrValidation)
		}
	}

	var result *Request
	queue := notify.NewQueue()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockByID(tx, requestID)
		if err != nil {
			return err
		}
		if err := authorizeStage(req, actor, in.Stage); err != nil {
			return err
		}
		// 锁内复核：并发流转下另一方可能已经改过状态
		if req.Status != expected {
			return fmt.Errorf("%w: %s stage requires status %s, current %s",
				ErrIllegalTransition, in.Stage, expected, req.Status)
		}

		before := *req
		now := time.Now()

		switch in.Decision {
		case DecisionApproved:
			if in.Stage == StageDepartment {
				if err := ApplyTransition(req, StatusPendingMotorpool, now); err != nil {
					return err
				}
				queue.Add(req.MotorpoolHeadID, "approval_required", "用车申请待派车",
					"部门审批已通过，请安排车辆与司机", requestLink(req.ID))
				queue.Add(req.RequesterID, "department_approved", "部门审批通过",
					"申请已转入车管派车阶段", requestLink(req.ID))
			} else {
				if err := s.assign(tx, req, actor, *in.Assignment, queue, now); err != nil {
					return err
				}
			}
		case DecisionRejected:
			if err := ApplyTransition(req, StatusRejected, now); err != nil {
				return err
			}
			queue.Add(req.RequesterID, "request_rejected", "用车申请被驳回",
				strings.TrimSpace(in.Comments), requestLink(req.ID))
		case DecisionRevision:
			if err := ApplyTransition(req, StatusRevision, now); err != nil {
				return err
			}
			req.RevisionStage = in.Stage
			queue.Add(req.RequesterID, "revision_requested", "用车申请需修改",
				strings.TrimSpace(in.Comments), requestLink(req.ID))
		}

		if err := tx.Save(req).Error; err != nil {
			return err
		}

		record := &ApprovalRecord{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			ApproverID: actor.ID,
			Stage:      in.Stage,
			Decision:   in.Decision,
			Comments:   strings.TrimSpace(in.Comments),
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		if err := s.auditor.Record(tx, actor.ID, string(in.Stage)+"_"+string(in.Decision),
			entityTypeRequest, req.ID, &before, req); err != nil {
			return err
		}

		result = req
		return nil
	})
	if err != nil {
		queue.Discard()
		return nil, s.classify(err)
	}

	queue.Flush(ctx, s.dispatcher, s.log)
	return result, nil
}

// assign 车管批准 + 派车：对车与司机分别做权威冲突检查，
// 未确认的冲突直接失败；通过后锁资源行并占用。
func (s *Service) assign(tx *gorm.DB, req *Request, actor Actor, in AssignmentInput, queue *notify.Queue, now time.Time) error {
	vehicleID := strings.TrimSpace(in.VehicleID)
	driverID := strings.TrimSpace(in.DriverID)

	if !in.OverrideConflictAck {
		detector := NewDetector(tx)
		for _, check := range []struct {
			kind resource.Kind
			id   string
		}{
			{resource.KindVehicle, vehicleID},
			{resource.KindDriver, driverID},
		} {
			conflict, err := detector.FindConflict(tx.Statement.Context, check.kind, check.id, req.StartAt, req.EndAt, req.ID)
			if err != nil {
				return err
			}
			if conflict != nil {
				return &ConflictError{
					Kind:                 check.kind,
					ResourceID:           check.id,
					ConflictingRequestID: conflict.RequestID,
					OverlapMinutes:       conflict.OverlapMinutes,
					Severity:             conflict.Severity,
				}
			}
		}
	}

	if err := s.reserveAsAssigned(tx, resource.KindVehicle, vehicleID, req, in.OverrideConflictAck); err != nil {
		return err
	}
	if err := s.reserveAsAssigned(tx, resource.KindDriver, driverID, req, in.OverrideConflictAck); err != nil {
		return err
	}

	if err := ApplyTransition(req, StatusApproved, now); err != nil {
		return err
	}
	req.VehicleID = vehicleID
	req.DriverID = driverID

	history := &AssignmentHistory{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		VehicleID:  vehicleID,
		DriverID:   driverID,
		AssignedBy: actor.ID,
		Action:     AssignmentActionAssigned,
	}
	if err := tx.Create(history).Error; err != nil {
		return err
	}

	queue.Add(req.RequesterID, "request_approved", "用车申请已批准",
		"已安排车辆与司机，请按时出行", requestLink(req.ID))
	queue.Add(driverID, "trip_assigned", "新派车任务",
		fmt.Sprintf("%s 至 %s，目的地 %s", fmtTime(req.StartAt), fmtTime(req.EndAt), req.Destination),
		requestLink(req.ID))
	return nil
}

// reserveAsAssigned 派车路径上的资源占用。台账报 ErrBusy 说明另一笔批准
// 抢先占了资源（冲突扫描的快照里可能还看不到那条申请），未经确认一律按
// 冲突拒绝；带确认的强行派车沿用占用状态。
func (s *Service) reserveAsAssigned(tx *gorm.DB, kind resource.Kind, id string, req *Request, ack bool) error {
	err := s.ledger.Reserve(tx, kind, id)
	if !errors.Is(err, resource.ErrBusy) {
		return err
	}
	if ack {
		return nil
	}
	conflict := &ConflictError{Kind: kind, ResourceID: id, Severity: SeveritySevere}
	if holder := lockHolderByResource(tx, kind, id); holder != nil {
		conflict.ConflictingRequestID = holder.ID
		conflict.OverlapMinutes = OverlapMinutes(req.StartAt, req.EndAt, holder.StartAt, holder.EndAt)
		conflict.Severity = ClassifySeverity(conflict.OverlapMinutes)
	}
	return conflict
}

// ResubmitInput 打回后重提的可编辑字段（零值表示不修改）。
type ResubmitInput struct {
	StartAt        *time.Time
	EndAt          *time.Time
	Purpose        string
	Destination    string
	PassengerCount int
	Notes          string
}

// ResubmitRequest 申请人修改后重提：回到打回它的那个阶段。
func (s *Service) ResubmitRequest(ctx context.Context, requestID string, actor Actor, in ResubmitInput) (*Request, error) {
	var result *Request
	queue := notify.NewQueue()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockByID(tx, requestID)
		if err != nil {
			return err
		}
		if actor.ID != req.RequesterID && !actor.Has(RoleAdmin) {
			return fmt.Errorf("%w: only the requester may resubmit", ErrUnauthorized)
		}
		if req.Status != StatusRevision {
			return fmt.Errorf("%w: resubmit requires status %s, current %s",
				ErrIllegalTransition, StatusRevision, req.Status)
		}

		target, err := StageForDecisionRouting(req.RevisionStage)
		if err != nil {
			return err
		}

		before := *req
		now := time.Now()

		if in.StartAt != nil {
			req.StartAt = *in.StartAt
		}
		if in.EndAt != nil {
			req.EndAt = *in.EndAt
		}
		if !req.StartAt.Before(req.EndAt) {
			return fmt.Errorf("%w: end must be after start", ErrValidation)
		}
		if v := strings.TrimSpace(in.Purpose); v != "" {
			req.Purpose = v
		}
		if v := strings.TrimSpace(in.Destination); v != "" {
			req.Destination = v
		}
		if in.PassengerCount > 0 {
			req.PassengerCount = in.PassengerCount
		}
		if v := strings.TrimSpace(in.Notes); v != "" {
			req.Notes = v
		}

		stage := req.RevisionStage
		if err := ApplyTransition(req, target, now); err != nil {
			return err
		}
		if err := tx.Save(req).Error; err != nil {
			return err
		}
		if err := s.auditor.Record(tx, actor.ID, "resubmit", entityTypeRequest, req.ID, &before, req); err != nil {
			return err
		}

		recipient := req.ApproverID
		if stage == StageMotorpool {
			recipient = req.MotorpoolHeadID
		}
		queue.Add(recipient, "approval_required", "用车申请已修改重提",
			"请重新审批", requestLink(req.ID))

		result = req
		return nil
	})
	if err != nil {
		queue.Discard()
		return nil, s.classify(err)
	}

	queue.Flush(ctx, s.dispatcher, s.log)
	return result, nil
}

// CancelRequest 取消申请。申请人可撤销自己的申请（原因可不填）；
// 管理员/审批人/车管可代为取消（必须给出原因）。
// 已持有的车辆/司机一并释放。
func (s *Service) CancelRequest(ctx context.Context, requestID string, actor Actor, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)

	var result *Request
	queue := notify.NewQueue()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockByID(tx, requestID)
		if err != nil {
			return err
		}

		selfCancel := actor.ID == req.RequesterID
		if !selfCancel && !actor.Has(RoleAdmin) && !actor.Has(RoleApprover) && !actor.Has(RoleMotorpool) {
			return fmt.Errorf("%w: cancellation requires requester or staff role", ErrUnauthorized)
		}
		if !selfCancel && reason == "" {
			return fmt.Errorf("%w: reason required when cancelling on behalf of requester", ErrValidation)
		}

		before := *req
		now := time.Now()

		if err := ApplyTransition(req, StatusCancelled, now); err != nil {
			return err
		}
		req.CancelledBy = actor.ID
		req.CancellationReason = reason

		// 已派的资源释放（幂等）
		if err := s.ledger.Release(tx, resource.KindVehicle, before.VehicleID); err != nil {
			return err
		}
		if err := s.ledger.Release(tx, resource.KindDriver, before.DriverID); err != nil {
			return err
		}

		if err := tx.Save(req).Error; err != nil {
			return err
		}
		if err := s.auditor.Record(tx, actor.ID, "cancel", entityTypeRequest, req.ID, &before, req); err != nil {
			return err
		}

		queue.Add(req.RequesterID, "request_cancelled", "用车申请已取消", reason, requestLink(req.ID))
		if before.DriverID != "" {
			queue.Add(before.DriverID, "trip_cancelled", "派车任务已取消", reason, requestLink(req.ID))
		}

		result = req
		return nil
	})
	if err != nil {
		queue.Discard()
		return nil, s.classify(err)
	}

	queue.Flush(ctx, s.dispatcher, s.log)
	return result, nil
}

// CompleteInput 完成行程入参。
type CompleteInput struct {
	EndingMileage int64 // 可选：结束里程，只增不减
	Notes         string
}

// CompleteTrip 完成行程：释放车辆与司机，尽力回写里程。
func (s *Service) CompleteTrip(ctx context.Context, requestID string, actor Actor, in CompleteInput) (*Request, error) {
	if !actor.Has(RoleMotorpool) && !actor.Has(RoleAdmin) {
		return nil, fmt.Errorf("%w: completion restricted to motorpool staff", ErrUnauthorized)
	}

	var result *Request
	queue := notify.NewQueue()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockByID(tx, requestID)
		if err != nil {
			return err
		}

		before := *req
		now := time.Now()

		if err := ApplyTransition(req, StatusCompleted, now); err != nil {
			return err
		}
		// 完成备注追加在申请人备注之后，不覆盖原始内容
		if v := strings.TrimSpace(in.Notes); v != "" {
			if req.Notes != "" {
				req.Notes = req.Notes + "\n" + v
			} else {
				req.Notes = v
			}
		}

		if err := s.ledger.Release(tx, resource.KindVehicle, req.VehicleID); err != nil {
			return err
		}
		if err := s.ledger.Release(tx, resource.KindDriver, req.DriverID); err != nil {
			return err
		}
		// 里程回写失败只告警，不阻塞释放与完成
		if err := s.ledger.RecordVehicleMileage(tx, req.VehicleID, in.EndingMileage, now); err != nil && s.log != nil {
			s.log.Warnf("failed to record mileage for vehicle %s: %v", req.VehicleID, err)
		}

		if err := tx.Save(req).Error; err != nil {
			return err
		}
		if err := s.auditor.Record(tx, actor.ID, "complete", entityTypeRequest, req.ID, &before, req); err != nil {
			return err
		}

		queue.Add(req.RequesterID, "trip_completed", "行程已完成", "", requestLink(req.ID))

		result = req
		return nil
	})
	if err != nil {
		queue.Discard()
		return nil, s.classify(err)
	}

	queue.Flush(ctx, s.dispatcher, s.log)
	return result, nil
}

// OverrideInput 改派入参。
type OverrideInput struct {
	VehicleID           string
	DriverID            string
	Reason              string
	OverrideConflictAck bool
}

// OverrideAssignment 对已批准的申请改派车辆/司机：
// 释放被替换的旧资源，占用新资源，追加改派轨迹。状态保持 approved。
func (s *Service) OverrideAssignment(ctx context.Context, requestID string, actor Actor, in OverrideInput) (*Request, error) {
	if !actor.Has(RoleMotorpool) && !actor.Has(RoleAdmin) {
		return nil, fmt.Errorf("%w: override restricted to motorpool staff", ErrUnauthorized)
	}
	vehicleID := strings.TrimSpace(in.VehicleID)
	driverID := strings.TrimSpace(in.DriverID)
	reason := strings.TrimSpace(in.Reason)
	if vehicleID == "" || driverID == "" {
		return nil, fmt.Errorf("%w: vehicle and driver required for override", ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required for override", ErrValidation)
	}

	var result *Request
	queue := notify.NewQueue()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockByID(tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusApproved {
			return fmt.Errorf("%w: override requires status %s, current %s",
				ErrIllegalTransition, StatusApproved, req.Status)
		}

		before := *req
		now := time.Now()

		if !in.OverrideConflictAck {
			detector := NewDetector(tx)
			for _, check := range []struct {
				kind    resource.Kind
				id, old string
			}{
				{resource.KindVehicle, vehicleID, before.VehicleID},
				{resource.KindDriver, driverID, before.DriverID},
			} {
				if check.id == check.old {
					continue
				}
				conflict, err := detector.FindConflict(tx.Statement.Context, check.kind, check.id, req.StartAt, req.EndAt, req.ID)
				if err != nil {
					return err
				}
				if conflict != nil {
					return &ConflictError{
						Kind:                 check.kind,
						ResourceID:           check.id,
						ConflictingRequestID: conflict.RequestID,
						OverlapMinutes:       conflict.OverlapMinutes,
						Severity:             conflict.Severity,
					}
				}
			}
		}

		// 只动有变化的资源
		if before.VehicleID != vehicleID {
			if err := s.ledger.Release(tx, resource.KindVehicle, before.VehicleID); err != nil {
				return err
			}
			if err := s.reserveAsAssigned(tx, resource.KindVehicle, vehicleID, req, in.OverrideConflictAck); err != nil {
				return err
			}
		}
		if before.DriverID != driverID {
			if err := s.ledger.Release(tx, resource.KindDriver, before.DriverID); err != nil {
				return err
			}
			if err := s.reserveAsAssigned(tx, resource.KindDriver, driverID, req, in.OverrideConflictAck); err != nil {
				return err
			}
		}

		if err := ApplyTransition(req, StatusApproved, now); err != nil {
			return err
		}
		req.VehicleID = vehicleID
		req.DriverID = driverID

		if err := tx.Save(req).Error; err != nil {
			return err
		}

		history := &AssignmentHistory{
			ID:                uuid.NewString(),
			RequestID:         req.ID,
			VehicleID:         vehicleID,
			DriverID:          driverID,
			PreviousVehicleID: before.VehicleID,
			PreviousDriverID:  before.DriverID,
			AssignedBy:        actor.ID,
			Action:            AssignmentActionOverridden,
			Reason:            reason,
		}
		if err := tx.Create(history).Error; err != nil {
			return err
		}
		if err := s.auditor.Record(tx, actor.ID, "override", entityTypeRequest, req.ID, &before, req); err != nil {
			return err
		}

		queue.Add(req.RequesterID, "assignment_overridden", "车辆/司机已调整", reason, requestLink(req.ID))
		if before.DriverID != "" && before.DriverID != driverID {
			queue.Add(before.DriverID, "trip_cancelled", "派车任务已调整", reason, requestLink(req.ID))
		}
		if driverID != before.DriverID {
			queue.Add(driverID, "trip_assigned", "新派车任务",
				fmt.Sprintf("%s 至 %s，目的地 %s", fmtTime(req.StartAt), fmtTime(req.EndAt), req.Destination),
				requestLink(req.ID))
		}

		result = req
		return nil
	})
	if err != nil {
		queue.Discard()
		return nil, s.classify(err)
	}

	queue.Flush(ctx, s.dispatcher, s.log)
	return result, nil
}

// CheckConflict 只读冲突检查：用于提交/编辑前的提示，
// 也是审批/改派内权威检查的同一套逻辑。
func (s *Service) CheckConflict(ctx context.Context, kind resource.Kind, resourceID string, start, end time.Time, excludeRequestID string) (*Conflict, error) {
	return NewDetector(s.db).FindConflict(ctx, kind, resourceID, start, end, excludeRequestID)
}

// GetRequest 申请详情。
func (s *Service) GetRequest(ctx context.Context, id string) (*Request, error) {
	return s.repo.GetByID(ctx, id)
}

// MarkViewed 审批人查看时间戳。
func (s *Service) MarkViewed(ctx context.Context, id string) error {
	return s.repo.MarkViewed(ctx, id, time.Now())
}

// AuditTrail 申请的审计历史。
func (s *Service) AuditTrail(ctx context.Context, id string) ([]audit.Entry, error) {
	return s.auditor.ListForEntity(s.db.WithContext(ctx), entityTypeRequest, id)
}

// authorizeStage 审批阶段的权限门：部门阶段要求指定审批人，
// 车管阶段要求指定车管负责人；admin 均可代为操作。
func authorizeStage(req *Request, actor Actor, stage Stage) error {
	if actor.Has(RoleAdmin) {
		return nil
	}
	switch stage {
	case StageDepartment:
		if actor.ID == req.ApproverID {
			return nil
		}
	case StageMotorpool:
		if actor.ID == req.MotorpoolHeadID {
			return nil
		}
	}
	return fmt.Errorf("%w: actor %s may not act on %s stage", ErrUnauthorized, actor.ID, stage)
}

func validateSubmit(in SubmitRequestInput) error {
	required := map[string]string{
		"requester_id":      in.RequesterID,
		"department_id":     in.DepartmentID,
		"approver_id":       in.ApproverID,
		"motorpool_head_id": in.MotorpoolHeadID,
		"purpose":           in.Purpose,
		"destination":       in.Destination,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s required", ErrValidation, field)
		}
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() {
		return fmt.Errorf("%w: start and end required", ErrValidation)
	}
	if !in.StartAt.Before(in.EndAt) {
		return fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	return nil
}

// classify 把事务内冒出来的错误收敛到错误分类：
// 已是分类错误的原样返回，其余（锁超时、连接断开等）归为 ErrPersistence。
func (s *Service) classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrIllegalTransition, ErrUnauthorized, ErrConflictDetected,
		ErrValidation, ErrNotFound,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, resource.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, resource.ErrUnderMaintenance) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if errors.Is(err, resource.ErrBusy) {
		return fmt.Errorf("%w: %v", ErrConflictDetected, err)
	}
	if s.log != nil {
		s.log.Errorf("transaction failed: %v", err)
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func requestLink(id string) string {
	return "/requests/" + id
}

func fmtTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}
