package channels

import (
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"aurora/pkg/api"
	"aurora/pkg/config"
	"aurora/pkg/store"
)

// LoadFromConfig acts as the central orchestration point for dynamic
// channel initialization. It iterates through the provided configuration
// map, resolves factories, and builds the resulting channel instances.
// The caller is responsible for registering them with the gateway.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, st store.Store, system *config.SystemConfig) []api.Channel {
	var built []api.Channel

	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, st, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// If Create returns nil (e.g., certain conditions not met but not an error), skip
		if channel == nil {
			continue
		}

		built = append(built, channel)
		slog.Info("Channel loaded", "name", name)
	}

	return built
}
