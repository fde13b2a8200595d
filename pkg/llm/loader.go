package llm

import (
	"fmt"
	"log"
	"time"

	"aurora/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig 把設定檔的 llm 區段展開成單一 LLMClient。
// 每個 provider 群組經由 autoload 註冊的 factory 建立(群組內一個模型
// 一個 client),湊滿一個以上就用 FallbackClient 包起來,讓引擎與
// 摘要排程共用同一條失效轉移鏈。
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (LLMClient, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %v", err)
	}

	var clients []LLMClient
	for _, group := range groups {
		log.Printf("Loading LLM group: %s (%d models)", group.Type, len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			// 打錯字或沒有 import 對應的 provider 套件,跳過不擋啟動
			log.Printf("⚠️ Unknown provider type: %s", group.Type)
			continue
		}

		created, err := factory.Create(group, system)
		if err != nil {
			log.Printf("⚠️ Failed to create %s clients: %v", group.Type, err)
			continue
		}
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}
	log.Printf("✅ LLM clients ready: %d", len(clients))

	if len(clients) == 1 {
		return clients[0], nil
	}

	// 排列順序即失效轉移順序,重試參數沿用系統設定
	return &FallbackClient{
		Clients:    clients,
		MaxRetries: system.MaxRetries,
		RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
	}, nil
}
