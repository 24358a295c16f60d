package resource

import (
	"errors"
	"fmt"
	"time"

	"github.com/TripFlow/TripFlow/internal/driver"
	"github.com/TripFlow/TripFlow/internal/vehicle"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Kind 资源类型标签（车辆 / 司机），由 Ledger 做穷举分发，
// 避免用字符串比较来区分两类资源行。
type Kind string

const (
	KindVehicle Kind = "vehicle"
	KindDriver  Kind = "driver"
)

// Valid 判断是否是已知资源类型。
func (k Kind) Valid() bool {
	return k == KindVehicle || k == KindDriver
}

var (
	// ErrNotFound 资源不存在。
	ErrNotFound = errors.New("resource not found")
	// ErrUnderMaintenance 资源处于维保状态，不可预定。
	ErrUnderMaintenance = errors.New("resource under maintenance")
	// ErrBusy 资源已被其他申请占用。锁定读取下这是最新已提交状态，
	// 即使占用方的申请行还不在调用方事务的快照里也能看到。
	ErrBusy = errors.New("resource already reserved")
)

// Ledger 资源台账：对车辆/司机做原子的占用/释放。
// 本身不带业务判断，什么时候该 reserve/release 由状态机决定；
// 这里只保证单行状态更新的幂等性，以及 reserve 前先锁行。
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve 占用资源：先 FOR UPDATE 锁行，再写占用状态。
// 已处于占用状态时返回 ErrBusy，是否视为冲突由调用方裁决；
// 维保中的资源拒绝占用。必须在调用方的事务 tx 内执行。
func (l *Ledger) Reserve(tx *gorm.DB, kind Kind, id string) error {
	if tx == nil {
		return fmt.Errorf("ledger tx is nil")
	}
	switch kind {
	case KindVehicle:
		var v vehicle.Vehicle
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
			}
			return err
		}
		if v.Status == vehicle.StatusMaintenance {
			return fmt.Errorf("vehicle %s: %w", id, ErrUnderMaintenance)
		}
		if v.Status == vehicle.StatusInUse {
			return fmt.Errorf("vehicle %s: %w", id, ErrBusy)
		}
		return tx.Model(&vehicle.Vehicle{}).Where("id = ?", id).
			Update("status", vehicle.StatusInUse).Error

	case KindDriver:
		var d driver.Driver
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&d).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("driver %s: %w", id, ErrNotFound)
			}
			return err
		}
		if d.Status == driver.StatusMaintenance {
			return fmt.Errorf("driver %s: %w", id, ErrUnderMaintenance)
		}
		if d.Status == driver.StatusOnTrip {
			return fmt.Errorf("driver %s: %w", id, ErrBusy)
		}
		return tx.Model(&driver.Driver{}).Where("id = ?", id).
			Update("status", driver.StatusOnTrip).Error

	default:
		return fmt.Errorf("unknown resource kind: %s", kind)
	}
}

// Release 释放资源回 available。幂等：重复释放、或资源已不存在，都是 no-op。
// 维保状态不被覆盖（维保由独立流程解除）。
func (l *Ledger) Release(tx *gorm.DB, kind Kind, id string) error {
	if tx == nil {
		return fmt.Errorf("ledger tx is nil")
	}
	if id == "" {
		return nil
	}
	switch kind {
	case KindVehicle:
		return tx.Model(&vehicle.Vehicle{}).
			Where("id = ? AND status = ?", id, vehicle.StatusInUse).
			Update("status", vehicle.StatusAvailable).Error
	case KindDriver:
		return tx.Model(&driver.Driver{}).
			Where("id = ? AND status = ?", id, driver.StatusOnTrip).
			Update("status", driver.StatusAvailable).Error
	default:
		return fmt.Errorf("unknown resource kind: %s", kind)
	}
}

// RecordVehicleMileage 完成行程时回写车辆里程：只增不减。
// 车辆专属的记账，不属于通用台账契约；失败由调用方记日志，不阻塞释放。
func (l *Ledger) RecordVehicleMileage(tx *gorm.DB, id string, endingMileage int64, now time.Time) error {
	if tx == nil {
		return fmt.Errorf("ledger tx is nil")
	}
	if endingMileage <= 0 || id == "" {
		return nil
	}
	return tx.Model(&vehicle.Vehicle{}).
		Where("id = ? AND mileage < ?", id, endingMileage).
		Updates(map[string]interface{}{
			"mileage":    endingMileage,
			"updated_at": now,
		}).Error
}
