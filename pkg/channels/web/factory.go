package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"aurora/pkg/api"
	"aurora/pkg/channels"
	"aurora/pkg/config"
	"aurora/pkg/store"
)

// WebFactory 負責建立 Web Channels
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, st store.Store, system *config.SystemConfig) (api.Channel, error) {
	var pCfg WebConfig
	// 設定預設 Port
	pCfg.Port = 9453

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	return NewWebChannel(pCfg, st), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
