package handlers

import (
	"time"

	"github.com/Jonesus/taulu/internal/config"
)

// sleepDuration 计算设备下一次唤醒前的休眠时长
//
// 优先级：固定分钟数 > 每日定点唤醒 > 默认睡到下一个整点。
// 定点时刻今天已过则顺延到明天。
func sleepDuration(now time.Time, cfg config.SleepConfig) time.Duration {
	if cfg.SleepMinutes > 0 {
		return time.Duration(cfg.SleepMinutes * float64(time.Minute))
	}

	if cfg.RefreshHour >= 0 && cfg.RefreshHour <= 23 {
		refresh := time.Date(now.Year(), now.Month(), now.Day(), cfg.RefreshHour, 0, 0, 0, now.Location())
		if !refresh.After(now) {
			refresh = refresh.Add(24 * time.Hour)
		}
		return refresh.Sub(now)
	}

	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now)
}
