package settings

import (
	"go.uber.org/zap"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// BroadcastTo registers an OnChange callback that publishes SETTINGS_UPDATED
// on every container named in containers (spec §6: "on change, a
// SETTINGS_UPDATED message is broadcast to all contexts with the new
// values"). The background context is expected to know the full set of
// live containers; containers opened later pick up the setting from their
// own initial Load.
func (w *Watcher) BroadcastTo(b *bus.Bus, identity string, containers func() []string, log *logger.Logger) {
	w.OnChange(func(s Settings) {
		for _, container := range containers() {
			err := b.Publish(container, -1, bus.OpSettingsUpdated, struct {
				MaxQuickTabs int  `json:"maxQuickTabs"`
				DebugLogging bool `json:"debugLogging"`
			}{s.MaxQuickTabs, s.DebugLogging}, identity, "")
			if err != nil && log != nil {
				log.Warn("settings: broadcast failed", zap.String("container", container), zap.Error(err))
			}
		}
	})
}
