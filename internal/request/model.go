package request

import (
	"time"

	"gorm.io/gorm"
)

// Status 用车申请状态枚举（持久化为字符串）。
type Status string

const (
	StatusDraft            Status = "draft"             // 草稿
	StatusPending          Status = "pending"           // 待部门审批
	StatusPendingMotorpool Status = "pending_motorpool" // 待车管审批/派车
	StatusRevision         Status = "revision"          // 已打回，待申请人修改重提
	StatusApproved         Status = "approved"          // 已批准并派车
	StatusRejected         Status = "rejected"          // 已驳回（终态）
	StatusCancelled        Status = "cancelled"         // 已取消（终态）
	StatusCompleted        Status = "completed"         // 已完成（终态）
)

// IsTerminal 是否终态。
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// Stage 审批阶段。
type Stage string

const (
	StageDepartment Stage = "department" // 部门审批（第一阶段）
	StageMotorpool  Stage = "motorpool"  // 车管审批（第二阶段，负责派车）
)

// Decision 单次审批决定。
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionRevision Decision = "revision" // 打回修改
)

// Request 用车申请 GORM 模型（聚合根）。
// 状态只允许通过状态机流转修改；从不硬删除，deleted_at 标记退役。
type Request struct {
	ID string `gorm:"primaryKey;size:36"`

	// 关联人员
	RequesterID     string `gorm:"index;size:36;not null"` // 申请人
	DepartmentID    string `gorm:"index;size:36;not null"` // 所属部门
	ApproverID      string `gorm:"index;size:36;not null"` // 部门审批人
	MotorpoolHeadID string `gorm:"index;size:36;not null"` // 车管负责人

	// 资源：vehicle_id 在待审批阶段可作为意向车辆，批准时为正式分配
	VehicleID         string `gorm:"index;size:36"` // 分配车辆（approved/completed 时有值）
	DriverID          string `gorm:"index;size:36"` // 分配司机（approved/completed 时有值）
	RequestedDriverID string `gorm:"size:36"`       // 申请时期望的司机（仅意向）

	Status Status `gorm:"type:varchar(20);index;not null"`

	// 行程信息
	StartAt        time.Time `gorm:"index;not null"` // 用车开始时间
	EndAt          time.Time `gorm:"index;not null"` // 用车结束时间
	Purpose        string    `gorm:"size:255;not null"`
	Destination    string    `gorm:"size:255;not null"`
	PassengerCount int       `gorm:"not null;default:1"`
	Notes          string    `gorm:"type:text"`

	// 打回路由：revision 状态下记录是哪个阶段打回的，
	// 重提时据此回到对应阶段，避免扫描审批历史。
	RevisionStage Stage `gorm:"type:varchar(16)"`

	// 取消信息
	CancelledAt        *time.Time
	CancelledBy        string `gorm:"size:36"`
	CancellationReason string `gorm:"size:255"`

	ViewedAt  *time.Time // 审批人首次查看时间
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"` // 软删除标记；软删行自动排除在所有查询外
}

// ApprovalRecord 单次审批决定记录。只追加：历史从不修改或删除，
// 某阶段的“当前结论”取该阶段最近一条记录。
type ApprovalRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	RequestID  string    `gorm:"index;size:36;not null"`
	ApproverID string    `gorm:"size:36;not null"`
	Stage      Stage     `gorm:"type:varchar(16);index;not null"`
	Decision   Decision  `gorm:"type:varchar(16);not null"`
	Comments   string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

// AssignmentHistory 车辆/司机（重新）分配的审计轨迹。只追加。
type AssignmentHistory struct {
	ID                string    `gorm:"primaryKey;size:36"`
	RequestID         string    `gorm:"index;size:36;not null"`
	VehicleID         string    `gorm:"size:36;not null"`
	DriverID          string    `gorm:"size:36;not null"`
	PreviousVehicleID string    `gorm:"size:36"`
	PreviousDriverID  string    `gorm:"size:36"`
	AssignedBy        string    `gorm:"size:36;not null"`
	Action            string    `gorm:"size:16;not null"` // assigned / overridden
	Reason            string    `gorm:"size:255"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index"`
}

// 分配动作。
const (
	AssignmentActionAssigned   = "assigned"
	AssignmentActionOverridden = "overridden"
)

// Passenger 随行乘客关联（提交申请时写入）。
type Passenger struct {
	ID        string    `gorm:"primaryKey;size:36"`
	RequestID string    `gorm:"index;size:36;not null"`
	UserID    string    `gorm:"size:36"` // 内部员工可关联用户 ID
	Name      string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Passenger) TableName() string {
	return "request_passengers"
}
