package request

import (
	"context"
	"fmt"
	"time"

	"github.com/TripFlow/TripFlow/internal/resource"
	"gorm.io/gorm"
)

// Severity 冲突严重程度，仅用于提示/二次确认，不单独阻断操作。
type Severity string

const (
	SeverityMinor    Severity = "minor"    // 重叠 <= 60 分钟
	SeverityModerate Severity = "moderate" // 重叠 <= 120 分钟
	SeveritySevere   Severity = "severe"   // 重叠 > 120 分钟
)

// Conflict 一次检测到的时间冲突。
type Conflict struct {
	RequestID      string    `json:"request_id"` // 撞上的申请
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	OverlapMinutes int       `json:"overlap_minutes"`
	Severity       Severity  `json:"severity"`
}

// Overlaps 半开区间 [start, end) 相交判定：首尾相接不算冲突。
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// OverlapMinutes 两区间重叠的分钟数（不相交时为 0）。
func OverlapMinutes(aStart, aEnd, bStart, bEnd time.Time) int {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !start.Before(end) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

// ClassifySeverity 按重叠分钟数分级。
func ClassifySeverity(overlapMinutes int) Severity {
	switch {
	case overlapMinutes <= 60:
		return SeverityMinor
	case overlapMinutes <= 120:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// Detector 冲突检测器：扫描持有某资源、状态非 rejected/cancelled
// 的未删除申请，返回与查询区间相交的第一条（按开始时间排序）。
type Detector struct {
	db *gorm.DB
}

func NewDetector(db *gorm.DB) *Detector {
	return &Detector{db: db}
}

// FindConflict 查找资源在 [start, end) 内的冲突。
// excludeRequestID 用于排除正在编辑的申请自身，避免自冲突。
// 没有冲突时返回 (nil, nil)。
func (d *Detector) FindConflict(ctx context.Context, kind resource.Kind, resourceID string, start, end time.Time, excludeRequestID string) (*Conflict, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("detector db is nil")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrValidation, kind)
	}
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id required", ErrValidation)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", ErrValidation)
	}

	q := d.db.WithContext(ctx).Model(&Request{}).
		Where("status NOT IN ?", []Status{StatusRejected, StatusCancelled}).
		Where("start_at < ? AND end_at > ?", end, start)

	switch kind {
	case resource.KindVehicle:
		q = q.Where("vehicle_id = ?", resourceID)
	case resource.KindDriver:
		q = q.Where("driver_id = ?", resourceID)
	}
	if excludeRequestID != "" {
		q = q.Where("id <> ?", excludeRequestID)
	}

	var hit Request
	if err := q.Order("start_at asc").First(&hit).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	overlap := OverlapMinutes(start, end, hit.StartAt, hit.EndAt)
	return &Conflict{
		RequestID:      hit.ID,
		StartAt:        hit.StartAt,
		EndAt:          hit.EndAt,
		OverlapMinutes: overlap,
		Severity:       ClassifySeverity(overlap),
	}, nil
}
