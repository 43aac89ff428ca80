package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server ServerConfig `toml:"server"`
	Data   DataConfig   `toml:"data"`
	Immich ImmichConfig `toml:"immich"`
	Photos PhotosConfig `toml:"photos"`
	Sleep  SleepConfig  `toml:"sleep"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
	// DevServerHost 下发给设备固件的开发服务器地址，留空表示不下发
	DevServerHost string `toml:"dev_server_host"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// ImmichConfig Immich 照片库配置
type ImmichConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// PhotosConfig 选图配置
type PhotosConfig struct {
	// PeopleIDs 照片必须包含的全部人物；留空时回落到 people-ids.json
	PeopleIDs           []string `toml:"people_ids"`
	FetchTimeoutMinutes int      `toml:"fetch_timeout_minutes"`
}

// SleepConfig 设备休眠策略，三选一：
// 固定分钟数 > 每日定点唤醒 > 默认整点唤醒
type SleepConfig struct {
	SleepMinutes float64 `toml:"sleep_minutes"` // 0 表示未设置
	RefreshHour  int     `toml:"refresh_hour"`  // -1 表示未设置
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    3000,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir: "data",
		},
		Photos: PhotosConfig{
			FetchTimeoutMinutes: 2,
		},
		Sleep: SleepConfig{
			RefreshHour: -1,
		},
	}
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}
	serverAny, ok := raw["server"]
	if !ok {
		return false
	}
	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}
	_, ok = serverMap["port"]
	return ok
}

// loadConfigFromFile 从指定路径加载配置，文件不存在时返回默认配置
func loadConfigFromFile(path string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{}
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(config)
			return config, info, nil
		}
		return nil, info, err
	}

	info.PortSpecified = isPortSpecifiedInToml(data)

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, info, err
	}

	applyEnvOverrides(config)
	return config, info, nil
}

// applyEnvOverrides 环境变量覆盖（部署时无需改配置文件）
func applyEnvOverrides(config *AppConfig) {
	if v := os.Getenv("IMMICH_API_KEY"); v != "" {
		config.Immich.APIKey = v
	}
	if v := os.Getenv("IMMICH_BASE_URL"); v != "" {
		config.Immich.BaseURL = v
	}
	if v := os.Getenv("TAULU_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("SLEEP_MINUTES"); v != "" {
		if minutes, err := strconv.ParseFloat(v, 64); err == nil {
			config.Sleep.SleepMinutes = minutes
		}
	}
	if v := os.Getenv("REFRESH_HOUR"); v != "" {
		if hour, err := strconv.Atoi(v); err == nil {
			config.Sleep.RefreshHour = hour
		}
	}
	if v := os.Getenv("TAULU_PEOPLE_IDS"); v != "" {
		ids := []string{}
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		config.Photos.PeopleIDs = ids
	}
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 加载配置
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	exeDir, err := GetExeDir()
	if err != nil {
		exeDir = "."
	}
	return loadConfigFromFile(filepath.Join(exeDir, "config.toml"))
}

// LoadConfig 从 config.toml 加载配置
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo()
	return config, err
}

// LoadPeopleIDs 人物列表：优先用配置里的 people_ids，
// 为空时读取可执行文件同目录的 people-ids.json
func LoadPeopleIDs(config *AppConfig) ([]string, error) {
	if len(config.Photos.PeopleIDs) > 0 {
		return config.Photos.PeopleIDs, nil
	}

	exeDir, err := GetExeDir()
	if err != nil {
		exeDir = "."
	}
	path := filepath.Join(exeDir, "people-ids.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// EnsureDataDir 确保数据目录及子目录存在
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		exeDir, err := GetExeDir()
		if err != nil {
			exeDir = "."
		}
		dataDir = filepath.Join(exeDir, dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "ready"), 0755); err != nil {
		return "", err
	}
	return dataDir, nil
}
