package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Jonesus/taulu/internal/config"
	"github.com/Jonesus/taulu/internal/immich"
	"github.com/Jonesus/taulu/internal/server"
	"github.com/Jonesus/taulu/internal/service/slots"
	"github.com/Jonesus/taulu/internal/service/telemetry"
)

var (
	port    = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode = flag.Bool("dev", false, "开发模式")
	dataDir = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
)

func main() {
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "taulu",
		Level:      hclog.Info,
		TimeFormat: "2006-01-02T15:04:05",
	})

	// 加载配置
	cfg, info, err := config.LoadConfigWithInfo()
	if err != nil {
		logger.Warn("加载配置失败，使用默认配置", "error", err)
		cfg = config.DefaultConfig()
		info = config.LoadConfigInfo{}
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}

	// 确保数据目录存在
	resolvedDataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		logger.Error("创建数据目录失败", "error", err)
		os.Exit(1)
	}
	logger.Info("数据目录", "path", resolvedDataDir)

	// 人物列表
	personIDs, err := config.LoadPeopleIDs(cfg)
	if err != nil {
		logger.Error("加载人物列表失败", "error", err)
		os.Exit(1)
	}
	if len(personIDs) == 0 {
		logger.Warn("人物列表为空，将不做人物过滤")
	}
	if cfg.Immich.APIKey == "" {
		logger.Warn("未配置 IMMICH_API_KEY，照片抓取会失败")
	}

	// 组装各层
	library := immich.NewClient(cfg.Immich.BaseURL, cfg.Immich.APIKey, logger)

	fetchTimeout := time.Duration(cfg.Photos.FetchTimeoutMinutes) * time.Minute
	manager, err := slots.NewManager(resolvedDataDir, library, personIDs, fetchTimeout, logger)
	if err != nil {
		logger.Error("初始化槽位管理器失败", "error", err)
		os.Exit(1)
	}

	store, err := telemetry.New(filepath.Join(resolvedDataDir, "taulu.db"))
	if err != nil {
		logger.Error("初始化遥测存储失败", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := server.NewServer(cfg, manager, store, logger)

	// 启动时先把槽位补齐
	manager.EnsureImages()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("服务启动", "addr", addr)
		if err := srv.Run(addr); err != nil {
			logger.Error("服务启动失败", "error", err)
			os.Exit(1)
		}
	}()

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务")
	manager.Close()
	srv.SaveNow()
}
