package ollama

import (
	"aurora/pkg/config"
	"aurora/pkg/llm"
	"log"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	buffer := 0
	if sys != nil {
		buffer = sys.InternalChannelBuffer
	}

	for _, model := range cfg.Models {
		baseURL := cfg.BaseURL
		if baseURL == "" && sys != nil {
			baseURL = sys.OllamaDefaultURL
		}
		client, err := NewOllamaClient(model, baseURL, cfg.Options, buffer)
		if err != nil {
			log.Printf("Failed to create Ollama client for model %s: %v", model, err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
