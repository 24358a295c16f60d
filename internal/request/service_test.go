package request

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/TripFlow/TripFlow/internal/audit"
	"github.com/TripFlow/TripFlow/internal/driver"
	"github.com/TripFlow/TripFlow/internal/notify"
	"github.com/TripFlow/TripFlow/internal/resource"
	"github.com/TripFlow/TripFlow/internal/vehicle"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 集成测试依赖真实 MySQL（FOR UPDATE 行锁语义）。
// 通过 TRIPFLOW_TEST_DSN 指定，例如:
//   root:root@tcp(127.0.0.1:3306)/tripflow_test?charset=utf8mb4&parseTime=True&loc=Local
// 未配置或连不上时跳过。

var (
	testDBOnce sync.Once
	testDB     *gorm.DB
	testDBErr  error
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TRIPFLOW_TEST_DSN")
	if dsn == "" {
		t.Skip("TRIPFLOW_TEST_DSN not set")
	}
	testDBOnce.Do(func() {
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			testDBErr = err
			return
		}
		testDBErr = db.AutoMigrate(
			&Request{}, &ApprovalRecord{}, &AssignmentHistory{}, &Passenger{},
			&vehicle.Vehicle{}, &driver.Driver{},
			&audit.Entry{}, &notify.Notification{},
		)
		testDB = db
	})
	if testDBErr != nil {
		t.Skipf("test database unavailable: %v", testDBErr)
	}
	return testDB
}

// memoryDispatcher 记录 Flush 出来的通知，便于断言提交后才发送。
type memoryDispatcher struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (d *memoryDispatcher) Notify(ctx context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *memoryDispatcher) byKind(kind string) []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.Message
	for _, m := range d.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (d *memoryDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

type testEnv struct {
	db         *gorm.DB
	svc        *Service
	dispatcher *memoryDispatcher

	requester Actor
	approver  Actor
	motorpool Actor

	vehicleID string
	driverID  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDB(t)
	dispatcher := &memoryDispatcher{}
	env := &testEnv{
		db:         db,
		svc:        NewService(db, dispatcher, nil),
		dispatcher: dispatcher,
		requester:  Actor{ID: uuid.NewString(), Roles: []string{RoleRequester}},
		approver:   Actor{ID: uuid.NewString(), Roles: []string{RoleApprover}},
		motorpool:  Actor{ID: uuid.NewString(), Roles: []string{RoleMotorpool}},
		vehicleID:  uuid.NewString(),
		driverID:   uuid.NewString(),
	}
	require.NoError(t, db.Create(&vehicle.Vehicle{
		ID:          env.vehicleID,
		PlateNumber: "TEST-" + env.vehicleID[:8],
		Model:       "test model",
		Capacity:    5,
		Status:      vehicle.StatusAvailable,
		Mileage:     1000,
	}).Error)
	require.NoError(t, db.Create(&driver.Driver{
		ID:            env.driverID,
		Name:          "test driver",
		Phone:         "13800000000",
		LicenseNumber: "LIC-" + env.driverID[:8],
		LicenseClass:  "C1",
		Status:        driver.StatusAvailable,
	}).Error)
	return env
}

func (e *testEnv) submit(t *testing.T, start, end time.Time) *Request {
	t.Helper()
	req, err := e.svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterID:     e.requester.ID,
		DepartmentID:    uuid.NewString(),
		ApproverID:      e.approver.ID,
		MotorpoolHeadID: e.motorpool.ID,
		StartAt:         start,
		EndAt:           end,
		Purpose:         "client visit",
		Destination:     "downtown office",
		PassengerCount:  2,
	})
	require.NoError(t, err)
	return req
}

func (e *testEnv) submitAt(t *testing.T, offsetHours int) *Request {
	t.Helper()
	start, end := tripWindow(offsetHours)
	return e.submit(t, start, end)
}

func (e *testEnv) approveBoth(t *testing.T, requestID string) *Request {
	t.Helper()
	_, err := e.svc.ActOnApproval(context.Background(), requestID, e.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.NoError(t, err)
	req, err := e.svc.ActOnApproval(context.Background(), requestID, e.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID: e.vehicleID,
			DriverID:  e.driverID,
		},
	})
	require.NoError(t, err)
	return req
}

func tripWindow(offsetHours int) (time.Time, time.Time) {
	start := time.Now().Add(time.Duration(24+offsetHours) * time.Hour).Truncate(time.Minute)
	return start, start.Add(4 * time.Hour)
}

func TestSubmitApproveCompleteRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start, end := tripWindow(0)

	req := env.submit(t, start, end)
	require.Equal(t, StatusPending, req.Status)
	require.Len(t, env.dispatcher.byKind("approval_required"), 1)

	req = env.approveBoth(t, req.ID)
	require.Equal(t, StatusApproved, req.Status)
	require.Equal(t, env.vehicleID, req.VehicleID)
	require.Equal(t, env.driverID, req.DriverID)

	// 资源进入占用状态
	var v vehicle.Vehicle
	require.NoError(t, env.db.First(&v, "id = ?", env.vehicleID).Error)
	require.Equal(t, vehicle.StatusInUse, v.Status)
	var d driver.Driver
	require.NoError(t, env.db.First(&d, "id = ?", env.driverID).Error)
	require.Equal(t, driver.StatusOnTrip, d.Status)

	req, err := env.svc.CompleteTrip(ctx, req.ID, env.motorpool, CompleteInput{EndingMileage: 1200})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, req.Status)

	// 完成后资源释放、里程回写
	require.NoError(t, env.db.First(&v, "id = ?", env.vehicleID).Error)
	require.Equal(t, vehicle.StatusAvailable, v.Status)
	require.EqualValues(t, 1200, v.Mileage)
	require.NoError(t, env.db.First(&d, "id = ?", env.driverID).Error)
	require.Equal(t, driver.StatusAvailable, d.Status)

	// 审批历史两条、分配轨迹一条、审计全程留痕
	records, err := env.svc.Repo().ListApprovalRecords(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	history, err := env.svc.Repo().ListAssignmentHistory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, AssignmentActionAssigned, history[0].Action)

	var auditCount int64
	require.NoError(t, env.db.Model(&audit.Entry{}).
		Where("entity_type = ? AND entity_id = ?", "request", req.ID).
		Count(&auditCount).Error)
	require.EqualValues(t, 4, auditCount) // submit + 两次审批 + complete
}

func TestDoubleBookingRejected(t *testing.T) {
	env := newTestEnv(t)
	start, end := tripWindow(0)

	first := env.submit(t, start, end)
	env.approveBoth(t, first.ID)

	// 同一辆车、重叠时段的第二个申请在车管批准时被冲突拦下
	second := env.submit(t, start.Add(time.Hour), end.Add(time.Hour))
	_, err := env.svc.ActOnApproval(context.Background(), second.ID, env.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.NoError(t, err)
	sentBefore := env.dispatcher.count()

	_, err = env.svc.ActOnApproval(context.Background(), second.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID: env.vehicleID,
			DriverID:  env.driverID,
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConflictDetected)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, first.ID, conflict.ConflictingRequestID)
	require.Equal(t, resource.KindVehicle, conflict.Kind)
	require.Equal(t, SeveritySevere, conflict.Severity) // 3 小时重叠

	// 失败的事务不产生通知、状态不变
	got, err := env.svc.GetRequest(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingMotorpool, got.Status)
	require.Equal(t, sentBefore, env.dispatcher.count())
}

func TestRevisionRoundTripReturnsToIssuingStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start, end := tripWindow(0)

	req := env.submit(t, start, end)
	_, err := env.svc.ActOnApproval(ctx, req.ID, env.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.NoError(t, err)

	// 车管打回
	got, err := env.svc.ActOnApproval(ctx, req.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionRevision,
		Comments: "trip window clashes with fleet maintenance",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRevision, got.Status)
	require.Equal(t, StageMotorpool, got.RevisionStage)

	// 重提后直接回到车管阶段，不再走部门审批
	newStart := start.Add(48 * time.Hour)
	newEnd := end.Add(48 * time.Hour)
	got, err = env.svc.ResubmitRequest(ctx, req.ID, env.requester, ResubmitInput{
		StartAt: &newStart,
		EndAt:   &newEnd,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingMotorpool, got.Status)
	require.Equal(t, Stage(""), got.RevisionStage)
	require.Equal(t, newStart.Unix(), got.StartAt.Unix())
}

func TestRevisionCommentRequired(t *testing.T) {
	env := newTestEnv(t)
	req := env.submitAt(t, 0)

	_, err := env.svc.ActOnApproval(context.Background(), req.ID, env.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionRevision,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCancelReleasesResources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitAt(t, 0)
	env.approveBoth(t, req.ID)

	got, err := env.svc.CancelRequest(ctx, req.ID, env.requester, "")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Equal(t, env.requester.ID, got.CancelledBy)
	require.NotNil(t, got.CancelledAt)

	var v vehicle.Vehicle
	require.NoError(t, env.db.First(&v, "id = ?", env.vehicleID).Error)
	require.Equal(t, vehicle.StatusAvailable, v.Status)

	// 终态后再取消是非法流转
	_, err = env.svc.CancelRequest(ctx, req.ID, env.requester, "")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCancelOnBehalfRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	req := env.submitAt(t, 0)

	_, err := env.svc.CancelRequest(context.Background(), req.ID, env.motorpool, "")
	require.ErrorIs(t, err, ErrValidation)

	got, err := env.svc.CancelRequest(context.Background(), req.ID, env.motorpool, "vehicle recalled")
	require.NoError(t, err)
	require.Equal(t, "vehicle recalled", got.CancellationReason)
}

func TestOverrideSwapsResourcesAndRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitAt(t, 0)
	env.approveBoth(t, req.ID)

	newVehicleID := uuid.NewString()
	newDriverID := uuid.NewString()
	require.NoError(t, env.db.Create(&vehicle.Vehicle{
		ID: newVehicleID, PlateNumber: "TEST-" + newVehicleID[:8],
		Model: "spare van", Capacity: 7, Status: vehicle.StatusAvailable,
	}).Error)
	require.NoError(t, env.db.Create(&driver.Driver{
		ID: newDriverID, Name: "spare driver", Phone: "13900000000",
		LicenseNumber: "LIC-" + newDriverID[:8], LicenseClass: "B2",
		Status: driver.StatusAvailable,
	}).Error)

	got, err := env.svc.OverrideAssignment(ctx, req.ID, env.motorpool, OverrideInput{
		VehicleID: newVehicleID,
		DriverID:  newDriverID,
		Reason:    "original vehicle broke down",
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, newVehicleID, got.VehicleID)

	// 旧资源释放、新资源占用
	var old vehicle.Vehicle
	require.NoError(t, env.db.First(&old, "id = ?", env.vehicleID).Error)
	require.Equal(t, vehicle.StatusAvailable, old.Status)
	var repl vehicle.Vehicle
	require.NoError(t, env.db.First(&repl, "id = ?", newVehicleID).Error)
	require.Equal(t, vehicle.StatusInUse, repl.Status)

	history, err := env.svc.Repo().ListAssignmentHistory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[len(history)-1]
	require.Equal(t, AssignmentActionOverridden, last.Action)
	require.Equal(t, env.vehicleID, last.PreviousVehicleID)
	require.Equal(t, env.driverID, last.PreviousDriverID)
	require.Equal(t, "original vehicle broke down", last.Reason)
}

func TestOverrideRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	req := env.submitAt(t, 0)
	env.approveBoth(t, req.ID)

	_, err := env.svc.OverrideAssignment(context.Background(), req.ID, env.motorpool, OverrideInput{
		VehicleID: env.vehicleID,
		DriverID:  env.driverID,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStageAuthorization(t *testing.T) {
	env := newTestEnv(t)
	req := env.submitAt(t, 0)

	// 车管负责人不能做部门审批
	_, err := env.svc.ActOnApproval(context.Background(), req.ID, env.motorpool, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	// 普通人不能改派
	stranger := Actor{ID: uuid.NewString(), Roles: []string{RoleRequester}}
	_, err = env.svc.OverrideAssignment(context.Background(), req.ID, stranger, OverrideInput{
		VehicleID: env.vehicleID, DriverID: env.driverID, Reason: "x",
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestMaintenanceVehicleNotAssignable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Model(&vehicle.Vehicle{}).
		Where("id = ?", env.vehicleID).
		Update("status", vehicle.StatusMaintenance).Error)

	req := env.submitAt(t, 0)
	_, err := env.svc.ActOnApproval(context.Background(), req.ID, env.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.NoError(t, err)

	_, err = env.svc.ActOnApproval(context.Background(), req.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID: env.vehicleID,
			DriverID:  env.driverID,
		},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestNotificationsOnlyAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	before := env.dispatcher.count()

	// 校验失败在事务前就拦下，不应有任何通知
	_, err := env.svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterID: env.requester.ID,
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, before, env.dispatcher.count())

	// 非法流转触发回滚，同样零通知
	req := env.submitAt(t, 0)
	after := env.dispatcher.count()
	_, err = env.svc.CompleteTrip(context.Background(), req.ID, env.motorpool, CompleteInput{})
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, after, env.dispatcher.count())
}

func TestCheckConflictAdvisory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start, end := tripWindow(0)
	req := env.submit(t, start, end)
	env.approveBoth(t, req.ID)

	conflict, err := env.svc.CheckConflict(ctx, resource.KindVehicle, env.vehicleID,
		start.Add(30*time.Minute), end.Add(30*time.Minute), "")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	require.Equal(t, req.ID, conflict.RequestID)

	// 排除自身不算冲突
	conflict, err = env.svc.CheckConflict(ctx, resource.KindVehicle, env.vehicleID,
		start, end, req.ID)
	require.NoError(t, err)
	require.Nil(t, conflict)

	// 首尾相接不算冲突
	conflict, err = env.svc.CheckConflict(ctx, resource.KindVehicle, env.vehicleID,
		end, end.Add(2*time.Hour), "")
	require.NoError(t, err)
	require.Nil(t, conflict)
}

func TestConflictAckForcesAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start, end := tripWindow(0)

	first := env.submit(t, start, end)
	env.approveBoth(t, first.ID)
	_, err := env.svc.CompleteTrip(ctx, first.ID, env.motorpool, CompleteInput{})
	require.NoError(t, err)

	// completed 申请仍留在时间轴上产生冲突，但资源已释放；
	// 车管确认后可以强行派同一辆车
	second := env.submit(t, start, end)
	_, err = env.svc.ActOnApproval(ctx, second.ID, env.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.NoError(t, err)

	_, err = env.svc.ActOnApproval(ctx, second.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID: env.vehicleID,
			DriverID:  env.driverID,
		},
	})
	require.ErrorIs(t, err, ErrConflictDetected)

	got, err := env.svc.ActOnApproval(ctx, second.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID:           env.vehicleID,
			DriverID:            env.driverID,
			OverrideConflictAck: true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
}

func TestListFilterByRequesterAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.submitAt(t, 0)
	b := env.submitAt(t, 24)
	_, err := env.svc.CancelRequest(ctx, b.ID, env.requester, "")
	require.NoError(t, err)

	items, total, err := env.svc.Repo().List(ctx, ListFilter{
		RequesterID: env.requester.ID,
		Status:      StatusPending,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, a.ID, items[0].ID)

	// 不存在的过滤条件返回空集不报错
	_, total, err = env.svc.Repo().List(ctx, ListFilter{
		RequesterID: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	start, end := tripWindow(0)

	cases := []struct {
		name string
		in   SubmitRequestInput
	}{
		{"missing purpose", SubmitRequestInput{
			RequesterID: env.requester.ID, DepartmentID: "d", ApproverID: "a",
			MotorpoolHeadID: "m", Destination: "x", StartAt: start, EndAt: end,
		}},
		{"end before start", SubmitRequestInput{
			RequesterID: env.requester.ID, DepartmentID: "d", ApproverID: "a",
			MotorpoolHeadID: "m", Purpose: "p", Destination: "x",
			StartAt: end, EndAt: start,
		}},
		{"zero times", SubmitRequestInput{
			RequesterID: env.requester.ID, DepartmentID: "d", ApproverID: "a",
			MotorpoolHeadID: "m", Purpose: "p", Destination: "x",
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := env.svc.SubmitRequest(context.Background(), c.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

// 锁竞争冒烟：两个并发取消只有一个成功，另一方拿到非法流转。
func TestConcurrentCancelSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	req := env.submitAt(t, 0)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CancelRequest(context.Background(), req.ID, env.requester, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var okCount, illegalCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrIllegalTransition):
			illegalCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, okCount, fmt.Sprintf("ok=%d illegal=%d", okCount, illegalCount))
	require.Equal(t, 1, illegalCount)
}

func TestOccupiedVehicleTreatedAsDoubleBooking(t *testing.T) {
	env := newTestEnv(t)
	req := env.submitAt(t, 0)
	_, err := env.svc.ActOnApproval(context.Background(), req.ID, env.approver, ApprovalInput{
		Stage:    StageDepartment,
		Decision: DecisionApproved,
	})
	require.NoError(t, err)

	// 车辆已被占用，但占用方的申请行对冲突扫描不可见
	require.NoError(t, env.db.Model(&vehicle.Vehicle{}).
		Where("id = ?", env.vehicleID).
		Update("status", vehicle.StatusInUse).Error)

	_, err = env.svc.ActOnApproval(context.Background(), req.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID: env.vehicleID,
			DriverID:  env.driverID,
		},
	})
	require.ErrorIs(t, err, ErrConflictDetected)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, resource.KindVehicle, ce.Kind)
	require.Equal(t, env.vehicleID, ce.ResourceID)

	// 申请仍停留在车管审批阶段，确认冲突后可以强行派车
	got, err := env.svc.ActOnApproval(context.Background(), req.ID, env.motorpool, ApprovalInput{
		Stage:    StageMotorpool,
		Decision: DecisionApproved,
		Assignment: &AssignmentInput{
			VehicleID:           env.vehicleID,
			DriverID:            env.driverID,
			OverrideConflictAck: true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
}

func TestConcurrentOverlappingApprovalsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	reqA := env.submitAt(t, 0)
	reqB := env.submitAt(t, 1)
	for _, id := range []string{reqA.ID, reqB.ID} {
		_, err := env.svc.ActOnApproval(context.Background(), id, env.approver, ApprovalInput{
			Stage:    StageDepartment,
			Decision: DecisionApproved,
		})
		require.NoError(t, err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{reqA.ID, reqB.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.svc.ActOnApproval(context.Background(), id, env.motorpool, ApprovalInput{
				Stage:    StageMotorpool,
				Decision: DecisionApproved,
				Assignment: &AssignmentInput{
					VehicleID: env.vehicleID,
					DriverID:  env.driverID,
				},
			})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var okCount, conflictCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrConflictDetected):
			conflictCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, okCount, fmt.Sprintf("ok=%d conflict=%d", okCount, conflictCount))
	require.Equal(t, 1, conflictCount)

	var approved int64
	require.NoError(t, env.db.Model(&Request{}).
		Where("status = ? AND vehicle_id = ?", StatusApproved, env.vehicleID).
		Count(&approved).Error)
	require.EqualValues(t, 1, approved)
}

func TestCompletionNotesAppendedToRequesterNotes(t *testing.T) {
	env := newTestEnv(t)
	start, end := tripWindow(0)
	req, err := env.svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterID:     env.requester.ID,
		DepartmentID:    uuid.NewString(),
		ApproverID:      env.approver.ID,
		MotorpoolHeadID: env.motorpool.ID,
		StartAt:         start,
		EndAt:           end,
		Purpose:         "client visit",
		Destination:     "downtown office",
		PassengerCount:  2,
		Notes:           "need a child seat",
	})
	require.NoError(t, err)
	env.approveBoth(t, req.ID)

	got, err := env.svc.CompleteTrip(context.Background(), req.ID, env.motorpool, CompleteInput{
		EndingMileage: 1200,
		Notes:         "returned with a full tank",
	})
	require.NoError(t, err)
	require.Equal(t, "need a child seat\nreturned with a full tank", got.Notes)
}
