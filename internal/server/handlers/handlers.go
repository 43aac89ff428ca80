// Package handlers 设备侧 HTTP API：下发当前图像与休眠策略，接收按键动作
// 和设备遥测。薄胶水层，业务都在槽位管理器里。
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/Jonesus/taulu/internal/config"
	"github.com/Jonesus/taulu/internal/convert"
	"github.com/Jonesus/taulu/internal/service/slots"
	"github.com/Jonesus/taulu/internal/service/telemetry"
)

// ImageManager 槽位管理器接口（由 slots.Manager 实现）
type ImageManager interface {
	EnsureImages()
	HandleAction(action string)
	CurrentPacked() (string, []byte, error)
	Status() slots.Status
}

// Handlers API 处理器
type Handlers struct {
	manager   ImageManager
	telemetry *telemetry.Store
	sleep     config.SleepConfig
	devHost   string
	logger    hclog.Logger

	now func() time.Time
}

// NewHandlers 创建处理器
func NewHandlers(manager ImageManager, store *telemetry.Store, cfg *config.AppConfig, logger hclog.Logger) *Handlers {
	return &Handlers{
		manager:   manager,
		telemetry: store,
		sleep:     cfg.Sleep,
		devHost:   cfg.Server.DevServerHost,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}

// RegisterRoutes 注册路由
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api")
	{
		api.GET("/current.json", h.GetCurrent)
		api.GET("/image.bin", h.GetImage)
		api.GET("/white.bin", h.GetWhite)
		api.POST("/action", h.PostAction)
		api.POST("/device-status", h.PostDeviceStatus)
		api.POST("/logs", h.PostLogs)
	}
}

// Health 存活探针
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready 就绪探针：有图可供、或正在抓取中都算就绪
// GET /ready
func (h *Handlers) Ready(c *gin.Context) {
	status := h.manager.Status()
	if status.HasImage || status.Updating {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"hasImages": status.HasImage,
			"updating":  status.Updating,
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "not ready",
		"reason": "no images available",
	})
}

// CurrentResponse 设备轮询响应
type CurrentResponse struct {
	ImageID       string  `json:"imageId"`
	SleepDuration int64   `json:"sleepDuration"` // 微秒
	HasImage      bool    `json:"hasImage"`
	ImageCount    int     `json:"imageCount"`
	Updating      bool    `json:"updating"`
	DevServerHost *string `json:"devServerHost"`
}

// GetCurrent 设备轮询入口：顺带触发槽位检查（非阻塞）
// GET /api/current.json
func (h *Handlers) GetCurrent(c *gin.Context) {
	h.manager.EnsureImages()

	status := h.manager.Status()
	sleep := sleepDuration(h.now(), h.sleep)

	imageID := status.CurrentID
	if imageID == "" {
		imageID = "no-image"
	}

	var devHost *string
	if h.devHost != "" {
		devHost = &h.devHost
	}

	h.logger.Info("current.json",
		"imageId", imageID,
		"sleepSeconds", int64(sleep.Seconds()),
		"hasImage", status.HasImage,
	)

	c.JSON(http.StatusOK, CurrentResponse{
		ImageID:       imageID,
		SleepDuration: sleep.Microseconds(),
		HasImage:      status.HasImage,
		ImageCount:    status.ImageCount,
		Updating:      status.Updating,
		DevServerHost: devHost,
	})
}

// GetImage 下发当前槽位的打包位图
// GET /api/image.bin
func (h *Handlers) GetImage(c *gin.Context) {
	h.manager.EnsureImages()

	id, data, err := h.manager.CurrentPacked()
	if err != nil {
		h.logger.Warn("no image available", "client", c.ClientIP())
		c.String(http.StatusNotFound, "No image ready")
		return
	}

	h.logger.Info("serving image", "imageId", id, "bytes", len(data))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// GetWhite 全白位图（设备端测试用）
// GET /api/white.bin
func (h *Handlers) GetWhite(c *gin.Context) {
	c.Data(http.StatusOK, "application/octet-stream", convert.WhiteBitmap())
}

// ActionRequest 设备按键动作
type ActionRequest struct {
	Action   string `json:"action" binding:"required"`
	DeviceID string `json:"deviceId"`
}

// PostAction 处理按键动作：next/previous 交给管理器，refresh 只触发槽位检查
// POST /api/action
func (h *Handlers) PostAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	h.logger.Info("device action", "action", req.Action, "deviceId", req.DeviceID)

	h.manager.HandleAction(req.Action)
	h.manager.EnsureImages()

	c.JSON(http.StatusOK, gin.H{"status": "accepted", "action": req.Action})
}

// PostDeviceStatus 记录设备状态上报，原始 JSON 入库
// POST /api/device-status
func (h *Handlers) PostDeviceStatus(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var meta struct {
		DeviceID string `json:"deviceId"`
	}
	_ = json.Unmarshal(body, &meta)
	if meta.DeviceID == "" {
		meta.DeviceID = "unknown"
	}

	if err := h.telemetry.RecordStatus(meta.DeviceID, string(body)); err != nil {
		h.logger.Error("record status failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// LogRequest 设备日志上报
type LogRequest struct {
	LogLevel string `json:"logLevel"`
	Logs     string `json:"logs"`
	DeviceID string `json:"deviceId"`
}

// PostLogs 记录设备转发的日志
// POST /api/logs
func (h *Handlers) PostLogs(c *gin.Context) {
	var req LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.LogLevel == "" {
		req.LogLevel = "INFO"
	}
	if req.DeviceID == "" {
		req.DeviceID = "unknown"
	}

	h.logger.Info("device log", "deviceId", req.DeviceID, "level", req.LogLevel, "message", req.Logs)

	if err := h.telemetry.RecordLog(req.DeviceID, req.LogLevel, req.Logs); err != nil {
		h.logger.Error("record log failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged"})
}
