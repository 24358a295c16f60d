package request

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TripFlow/TripFlow/internal/common/logger"
	"github.com/TripFlow/TripFlow/internal/common/middleware"
	"github.com/TripFlow/TripFlow/internal/notify"
	"github.com/TripFlow/TripFlow/internal/resource"
	"github.com/gin-gonic/gin"
)

// Handler 用车申请 HTTP 接口。
type Handler struct {
	svc   *Service
	store *notify.StoreDispatcher
	log   logger.Logger
}

func NewHandler(svc *Service, store *notify.StoreDispatcher, log logger.Logger) *Handler {
	return &Handler{svc: svc, store: store, log: log}
}

// RegisterRoutes 注册 /api/v1 下的路由。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/requests")
	{
		requests.POST("", h.Submit)
		requests.GET("", h.List)
		requests.GET("/:id", h.Get)
		requests.POST("/:id/approval", h.Approve)
		requests.POST("/:id/resubmit", h.Resubmit)
		requests.POST("/:id/cancel", h.Cancel)
		requests.POST("/:id/complete", h.Complete)
		requests.POST("/:id/override", h.Override)
		requests.GET("/:id/approvals", h.ListApprovals)
		requests.GET("/:id/assignments", h.ListAssignments)
		requests.GET("/:id/audit", h.AuditTrail)
	}
	rg.GET("/conflicts/check", h.CheckConflict)
	if h.store != nil {
		rg.GET("/notifications", h.ListNotifications)
		rg.POST("/notifications/:id/read", h.MarkNotificationRead)
	}
}

type submitRequestBody struct {
	DepartmentID      string          `json:"department_id" binding:"required"`
	ApproverID        string          `json:"approver_id" binding:"required"`
	MotorpoolHeadID   string          `json:"motorpool_head_id" binding:"required"`
	VehicleID         string          `json:"vehicle_id"`
	RequestedDriverID string          `json:"requested_driver_id"`
	StartAt           time.Time       `json:"start_at" binding:"required"`
	EndAt             time.Time       `json:"end_at" binding:"required"`
	Purpose           string          `json:"purpose" binding:"required"`
	Destination       string          `json:"destination" binding:"required"`
	PassengerCount    int             `json:"passenger_count"`
	Notes             string          `json:"notes"`
	Passengers        []passengerBody `json:"passengers"`
}

type passengerBody struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Submit 提交用车申请。
func (h *Handler) Submit(c *gin.Context) {
	actor := h.actor(c)
	var body submitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	in := SubmitRequestInput{
		RequesterID:       actor.ID,
		DepartmentID:      body.DepartmentID,
		ApproverID:        body.ApproverID,
		MotorpoolHeadID:   body.MotorpoolHeadID,
		VehicleID:         body.VehicleID,
		RequestedDriverID: body.RequestedDriverID,
		StartAt:           body.StartAt,
		EndAt:             body.EndAt,
		Purpose:           body.Purpose,
		Destination:       body.Destination,
		PassengerCount:    body.PassengerCount,
		Notes:             body.Notes,
	}
	for _, p := range body.Passengers {
		in.Passengers = append(in.Passengers, PassengerInput{UserID: p.UserID, Name: p.Name})
	}

	req, err := h.svc.SubmitRequest(c.Request.Context(), in)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 0, "data": req})
}

type approvalBody struct {
	Stage               string `json:"stage" binding:"required"`
	Decision            string `json:"decision" binding:"required"`
	Comments            string `json:"comments"`
	VehicleID           string `json:"vehicle_id"`
	DriverID            string `json:"driver_id"`
	OverrideConflictAck bool   `json:"override_conflict_ack"`
}

// Approve 部门/车管审批。
func (h *Handler) Approve(c *gin.Context) {
	actor := h.actor(c)
	var body approvalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	in := ApprovalInput{
		Stage:    Stage(strings.ToLower(strings.TrimSpace(body.Stage))),
		Decision: Decision(strings.ToLower(strings.TrimSpace(body.Decision))),
		Comments: body.Comments,
	}
	if body.VehicleID != "" || body.DriverID != "" {
		in.Assignment = &AssignmentInput{
			VehicleID:           body.VehicleID,
			DriverID:            body.DriverID,
			OverrideConflictAck: body.OverrideConflictAck,
		}
	}

	req, err := h.svc.ActOnApproval(c.Request.Context(), c.Param("id"), actor, in)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": req})
}

type resubmitBody struct {
	StartAt        *time.Time `json:"start_at"`
	EndAt          *time.Time `json:"end_at"`
	Purpose        string     `json:"purpose"`
	Destination    string     `json:"destination"`
	PassengerCount int        `json:"passenger_count"`
	Notes          string     `json:"notes"`
}

// Resubmit 打回后修改重提。
func (h *Handler) Resubmit(c *gin.Context) {
	actor := h.actor(c)
	var body resubmitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := h.svc.ResubmitRequest(c.Request.Context(), c.Param("id"), actor, ResubmitInput{
		StartAt:        body.StartAt,
		EndAt:          body.EndAt,
		Purpose:        body.Purpose,
		Destination:    body.Destination,
		PassengerCount: body.PassengerCount,
		Notes:          body.Notes,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": req})
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// Cancel 取消申请。
func (h *Handler) Cancel(c *gin.Context) {
	actor := h.actor(c)
	var body cancelBody
	// body 可为空：申请人自撤可以不给原因
	_ = c.ShouldBindJSON(&body)

	req, err := h.svc.CancelRequest(c.Request.Context(), c.Param("id"), actor, body.Reason)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": req})
}

type completeBody struct {
	EndingMileage int64  `json:"ending_mileage"`
	Notes         string `json:"notes"`
}

// Complete 完成行程。
func (h *Handler) Complete(c *gin.Context) {
	actor := h.actor(c)
	var body completeBody
	_ = c.ShouldBindJSON(&body)

	req, err := h.svc.CompleteTrip(c.Request.Context(), c.Param("id"), actor, CompleteInput{
		EndingMileage: body.EndingMileage,
		Notes:         body.Notes,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": req})
}

type overrideBody struct {
	VehicleID           string `json:"vehicle_id" binding:"required"`
	DriverID            string `json:"driver_id" binding:"required"`
	Reason              string `json:"reason" binding:"required"`
	OverrideConflictAck bool   `json:"override_conflict_ack"`
}

// Override 改派车辆/司机。
func (h *Handler) Override(c *gin.Context) {
	actor := h.actor(c)
	var body overrideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := h.svc.OverrideAssignment(c.Request.Context(), c.Param("id"), actor, OverrideInput{
		VehicleID:           body.VehicleID,
		DriverID:            body.DriverID,
		Reason:              body.Reason,
		OverrideConflictAck: body.OverrideConflictAck,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": req})
}

// Get 申请详情。审批人查看时顺带打 viewed_at 时间戳。
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")
	req, err := h.svc.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, err)
		return
	}

	actor := h.actor(c)
	if actor.ID != "" && (actor.ID == req.ApproverID || actor.ID == req.MotorpoolHeadID) {
		if err := h.svc.MarkViewed(c.Request.Context(), id); err != nil && h.log != nil {
			h.log.Warnf("mark viewed failed for request %s: %v", id, err)
		}
	}

	passengers, err := h.svc.Repo().ListPassengers(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
		"request":    req,
		"passengers": passengers,
	}})
}

// AuditTrail 申请的审计历史。
func (h *Handler) AuditTrail(c *gin.Context) {
	entries, err := h.svc.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": entries})
}

// List 分页查询申请。
func (h *Handler) List(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	filter := ListFilter{
		RequesterID:  c.Query("requester_id"),
		DepartmentID: c.Query("department_id"),
		Status:       Status(c.Query("status")),
		Offset:       offset,
		Limit:        limit,
	}
	items, total, err := h.svc.Repo().List(c.Request.Context(), filter)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"items": items, "total": total}})
}

// ListApprovals 审批历史。
func (h *Handler) ListApprovals(c *gin.Context) {
	records, err := h.svc.Repo().ListApprovalRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": records})
}

// ListAssignments 分配/改派轨迹。
func (h *Handler) ListAssignments(c *gin.Context) {
	records, err := h.svc.Repo().ListAssignmentHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": records})
}

// CheckConflict 只读冲突检查，提交/改期前的提示用。
// GET /conflicts/check?kind=vehicle&resource_id=...&start=...&end=...&exclude_request_id=...
func (h *Handler) CheckConflict(c *gin.Context) {
	kind := resource.Kind(strings.ToLower(c.Query("kind")))
	if !kind.Valid() {
		h.fail(c, http.StatusBadRequest, "kind must be vehicle or driver")
		return
	}
	resourceID := strings.TrimSpace(c.Query("resource_id"))
	if resourceID == "" {
		h.fail(c, http.StatusBadRequest, "resource_id required")
		return
	}
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "end must be RFC3339")
		return
	}

	conflict, err := h.svc.CheckConflict(c.Request.Context(), kind, resourceID, start, end, c.Query("exclude_request_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
		"conflict": conflict != nil,
		"detail":   conflict,
	}})
}

// ListNotifications 当前用户的站内通知。
func (h *Handler) ListNotifications(c *gin.Context) {
	actor := h.actor(c)
	unreadOnly := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.store.ListForUser(c.Request.Context(), actor.ID, unreadOnly, limit)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": items})
}

// MarkNotificationRead 标记通知已读。
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	actor := h.actor(c)
	if err := h.store.MarkRead(c.Request.Context(), c.Param("id"), actor.ID); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0})
}

// actor 从认证中间件取当前用户；认证关闭时为空 actor。
func (h *Handler) actor(c *gin.Context) Actor {
	a, ok := middleware.ActorFromContext(c)
	if !ok {
		return Actor{}
	}
	return Actor{ID: a.ID, Roles: a.Roles}
}

func (h *Handler) fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

// failErr 错误分类到 HTTP 状态码。冲突错误附带冲突明细，
// 前端可据此提示并引导 override_conflict_ack。
func (h *Handler) failErr(c *gin.Context, err error) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{
			"code": http.StatusConflict,
			"msg":  conflict.Error(),
			"data": gin.H{
				"kind":                   conflict.Kind,
				"resource_id":            conflict.ResourceID,
				"conflicting_request_id": conflict.ConflictingRequestID,
				"overlap_minutes":        conflict.OverlapMinutes,
				"severity":               conflict.Severity,
			},
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrConflictDetected):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError && h.log != nil {
		h.log.Errorf("request handler error: %v", err)
	}
	h.fail(c, status, err.Error())
}
