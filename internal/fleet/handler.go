package fleet

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TripFlow/TripFlow/internal/common/logger"
	"github.com/TripFlow/TripFlow/internal/driver"
	"github.com/TripFlow/TripFlow/internal/vehicle"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handler 车队主数据维护接口（车辆/司机台账）。
// 写操作经由 RBAC 限定给车管/管理员。
type Handler struct {
	vehicles *vehicle.Repo
	drivers  *driver.Repo
	log      logger.Logger
}

func NewHandler(db *gorm.DB, log logger.Logger) *Handler {
	return &Handler{
		vehicles: vehicle.NewRepo(db),
		drivers:  driver.NewRepo(db),
		log:      log,
	}
}

// RegisterRoutes 注册 /api/v1 下的车队路由。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	vehicles := rg.Group("/vehicles")
	{
		vehicles.GET("", h.ListVehicles)
		vehicles.GET("/:id", h.GetVehicle)
		vehicles.POST("", h.UpsertVehicle)
		vehicles.POST("/:id/status", h.SetVehicleStatus)
	}
	drivers := rg.Group("/drivers")
	{
		drivers.GET("", h.ListDrivers)
		drivers.GET("/:id", h.GetDriver)
		drivers.POST("", h.UpsertDriver)
		drivers.POST("/:id/status", h.SetDriverStatus)
	}
}

func (h *Handler) ListVehicles(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, total, err := h.vehicles.List(c.Request.Context(), c.Query("status"), offset, limit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"items": items, "total": total}})
}

func (h *Handler) GetVehicle(c *gin.Context) {
	v, err := h.vehicles.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.failMsg(c, http.StatusNotFound, "vehicle not found")
			return
		}
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
}

type vehicleBody struct {
	ID          string `json:"id"`
	PlateNumber string `json:"plate_number" binding:"required"`
	Model       string `json:"model"`
	Capacity    int    `json:"capacity"`
	Mileage     int64  `json:"mileage"`
}

// UpsertVehicle 新增/编辑车辆。新车默认 available。
func (h *Handler) UpsertVehicle(c *gin.Context) {
	var body vehicleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.failMsg(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	v := &vehicle.Vehicle{
		ID:          strings.TrimSpace(body.ID),
		PlateNumber: strings.TrimSpace(body.PlateNumber),
		Model:       strings.TrimSpace(body.Model),
		Capacity:    body.Capacity,
		Mileage:     body.Mileage,
		Status:      vehicle.StatusAvailable,
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	} else if existing, err := h.vehicles.FindByID(c.Request.Context(), v.ID); err == nil {
		// 编辑不改占用状态
		v.Status = existing.Status
		if body.Mileage < existing.Mileage {
			v.Mileage = existing.Mileage
		}
	}

	if err := h.vehicles.Upsert(c.Request.Context(), v); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
}

type statusBody struct {
	Status string `json:"status" binding:"required"`
}

// SetVehicleStatus 车辆上线/停驶。占用状态由分配流程管理，不允许手工设置。
func (h *Handler) SetVehicleStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.failMsg(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if status != vehicle.StatusAvailable && status != vehicle.StatusMaintenance {
		h.failMsg(c, http.StatusBadRequest, "status must be available or maintenance")
		return
	}

	v, err := h.vehicles.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.failMsg(c, http.StatusNotFound, "vehicle not found")
			return
		}
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	if v.Status == vehicle.StatusInUse {
		h.failMsg(c, http.StatusConflict, "vehicle is on an active trip")
		return
	}
	// 出保上线时记录本次维保的时间与里程
	if v.Status == vehicle.StatusMaintenance && status == vehicle.StatusAvailable {
		now := time.Now()
		v.LastMaintenanceDate = &now
		v.LastMaintenanceOdometer = v.Mileage
	}
	v.Status = status
	if err := h.vehicles.Upsert(c.Request.Context(), v); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
}

func (h *Handler) ListDrivers(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, total, err := h.drivers.List(c.Request.Context(), c.Query("status"), offset, limit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"items": items, "total": total}})
}

func (h *Handler) GetDriver(c *gin.Context) {
	d, err := h.drivers.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.failMsg(c, http.StatusNotFound, "driver not found")
			return
		}
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": d})
}

type driverBody struct {
	ID            string `json:"id"`
	Name          string `json:"name" binding:"required"`
	Phone         string `json:"phone"`
	LicenseNumber string `json:"license_number" binding:"required"`
	LicenseClass  string `json:"license_class"`
}

// UpsertDriver 新增/编辑司机。新司机默认 available。
func (h *Handler) UpsertDriver(c *gin.Context) {
	var body driverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.failMsg(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	d := &driver.Driver{
		ID:            strings.TrimSpace(body.ID),
		Name:          strings.TrimSpace(body.Name),
		Phone:         strings.TrimSpace(body.Phone),
		LicenseNumber: strings.TrimSpace(body.LicenseNumber),
		LicenseClass:  strings.TrimSpace(body.LicenseClass),
		Status:        driver.StatusAvailable,
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	} else if existing, err := h.drivers.FindByID(c.Request.Context(), d.ID); err == nil {
		d.Status = existing.Status
	}

	if err := h.drivers.Upsert(c.Request.Context(), d); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": d})
}

// SetDriverStatus 司机可用/停驶。行程占用状态由分配流程管理。
func (h *Handler) SetDriverStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.failMsg(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if status != driver.StatusAvailable && status != driver.StatusMaintenance {
		h.failMsg(c, http.StatusBadRequest, "status must be available or maintenance")
		return
	}

	d, err := h.drivers.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.failMsg(c, http.StatusNotFound, "driver not found")
			return
		}
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	if d.Status == driver.StatusOnTrip {
		h.failMsg(c, http.StatusConflict, "driver is on an active trip")
		return
	}
	d.Status = status
	if err := h.drivers.Upsert(c.Request.Context(), d); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": d})
}

func (h *Handler) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError && h.log != nil {
		h.log.Errorf("fleet handler error: %v", err)
	}
	c.JSON(status, gin.H{"code": status, "msg": err.Error()})
}

func (h *Handler) failMsg(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "msg": msg})
}
