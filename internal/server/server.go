package server

import (
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/Jonesus/taulu/internal/config"
	"github.com/Jonesus/taulu/internal/server/handlers"
	"github.com/Jonesus/taulu/internal/service/slots"
	"github.com/Jonesus/taulu/internal/service/telemetry"
)

// Server HTTP 服务器
type Server struct {
	router  *gin.Engine
	manager *slots.Manager
}

// NewServer 创建服务器并注册路由
func NewServer(cfg *config.AppConfig, manager *slots.Manager, store *telemetry.Store, logger hclog.Logger) *Server {
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	h := handlers.NewHandlers(manager, store, cfg, logger)
	h.RegisterRoutes(router)

	return &Server{
		router:  router,
		manager: manager,
	}
}

// Run 启动服务器
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// SaveNow 立即持久化槽位状态（退出前调用）
func (s *Server) SaveNow() {
	s.manager.SaveNow()
}
