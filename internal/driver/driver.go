package driver

import (
	"time"
)

// 司机状态（持久化为字符串）。
const (
	StatusAvailable   = "available"   // 可接行程
	StatusOnTrip      = "on_trip"     // 行程中
	StatusMaintenance = "maintenance" // 停驶（休假/培训等）
)

// Driver 是 drivers 表的 GORM 模型。
type Driver struct {
	ID            string `gorm:"primaryKey;size:36"`
	Name          string `gorm:"size:64;not null"`
	Phone         string `gorm:"size:32"`
	LicenseNumber string `gorm:"uniqueIndex;size:32;not null"`
	LicenseClass  string `gorm:"size:8"` // 准驾车型
	Status        string `gorm:"type:varchar(16);index;not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
