package vehicle

import (
	"time"
)

// 车辆状态（持久化为字符串）。
const (
	StatusAvailable   = "available"   // 可用
	StatusInUse       = "in_use"      // 已被行程占用
	StatusMaintenance = "maintenance" // 维保中，不可分配
)

// Vehicle 是 vehicles 表的 GORM 模型。
type Vehicle struct {
	ID          string `gorm:"primaryKey;size:36"`
	PlateNumber string `gorm:"uniqueIndex;size:32;not null"`
	Model       string `gorm:"size:64"`
	Capacity    int    `gorm:"not null;default:0"`           // 核载人数
	Status      string `gorm:"type:varchar(16);index;not null"`

	// 里程/维保信息（完成行程时更新，尽力而为）
	Mileage                 int64      `gorm:"not null;default:0"` // 当前里程（公里）
	LastMaintenanceDate     *time.Time // 最近维保日期
	LastMaintenanceOdometer int64      `gorm:"not null;default:0"` // 最近维保时里程

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
