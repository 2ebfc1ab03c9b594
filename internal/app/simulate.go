package app

import (
	"context"
	"errors"
	"time"

	"spotwatcher/internal/alerting"
)

// SimulateAlert 发送一条合成告警以验证通知链路。
func (a *App) SimulateAlert(ctx context.Context, area string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	if area == "" {
		area = "TEST"
	}

	note := alerting.Notification{
		Area:           area,
		At:             time.Now(),
		Reason:         "simulated alert",
		HoursRemaining: 0.5,
		UsingCached:    true,
		FailedSources:  []string{"simulated-source"},
		Channels:       a.Config.Alerting.Channels,
		AdditionalMsg:  "this is a test notification",
	}

	return notifier.Notify(ctx, note)
}
