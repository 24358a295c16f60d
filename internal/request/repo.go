package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TripFlow/TripFlow/internal/resource"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) withCtx(ctx context.Context) *gorm.DB {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.WithContext(ctx)
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Request, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var req Request
	if err := db.Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &req, nil
}

// lockByID 在事务内以 FOR UPDATE 锁定并重取申请行，
// 用于对同一申请的并发流转排队。
func lockByID(tx *gorm.DB, id string) (*Request, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx is nil")
	}
	var req Request
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &req, nil
}

// lockHolderByResource 用锁定读取找出当前占用该资源的已批准申请。
// 锁定读取返回的是最新已提交数据，本事务快照里还不可见的并发批准也能查到。
// 查不到时返回 nil，由调用方决定如何兜底。
func lockHolderByResource(tx *gorm.DB, kind resource.Kind, resourceID string) *Request {
	col := "vehicle_id"
	if kind == resource.KindDriver {
		col = "driver_id"
	}
	var holder Request
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ? AND "+col+" = ?", StatusApproved, resourceID).
		First(&holder).Error
	if err != nil {
		return nil
	}
	return &holder
}

// ListFilter 查询条件。
type ListFilter struct {
	RequesterID  string
	DepartmentID string
	Status       Status
	Offset       int
	Limit        int
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Request, int64, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, 0, fmt.Errorf("repo db is nil")
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := db.Model(&Request{})
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.DepartmentID != "" {
		q = q.Where("department_id = ?", f.DepartmentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var requests []Request
	if err := q.Order("created_at desc").Offset(f.Offset).Limit(f.Limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// MarkViewed 审批人首次查看时打上时间戳（重复查看是 no-op）。
func (r *Repo) MarkViewed(ctx context.Context, id string, now time.Time) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Model(&Request{}).
		Where("id = ? AND viewed_at IS NULL", id).
		Update("viewed_at", now).Error
}

// ListApprovalRecords 某申请的审批历史（按时间正序）。
func (r *Repo) ListApprovalRecords(ctx context.Context, requestID string) ([]ApprovalRecord, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var records []ApprovalRecord
	if err := db.Where("request_id = ?", requestID).
		Order("created_at asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListAssignmentHistory 某申请的分配轨迹（按时间正序）。
func (r *Repo) ListAssignmentHistory(ctx context.Context, requestID string) ([]AssignmentHistory, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var entries []AssignmentHistory
	if err := db.Where("request_id = ?", requestID).
		Order("created_at asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListPassengers 某申请的随行乘客。
func (r *Repo) ListPassengers(ctx context.Context, requestID string) ([]Passenger, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var passengers []Passenger
	if err := db.Where("request_id = ?", requestID).Find(&passengers).Error; err != nil {
		return nil, err
	}
	return passengers, nil
}
