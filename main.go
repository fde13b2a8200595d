package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"aurora/pkg/agent"
	"aurora/pkg/channels"
	_ "aurora/pkg/channels/autoload" // 自動註冊 Channels
	"aurora/pkg/config"
	"aurora/pkg/gateway"
	"aurora/pkg/llm"
	_ "aurora/pkg/llm/autoload" // 自動註冊 LLM Providers
	"aurora/pkg/monitor"
	"aurora/pkg/store"
	"aurora/pkg/summary"
	"aurora/pkg/tools"
)

func main() {
	// --- 0. 讀取設定檔 ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		log.Printf("⚠️ Warning: %v\n", err)
		log.Printf("Using default/empty config.\n")
		cfg = &config.Config{}
		sysCfg = config.DefaultSystemConfig()
	}

	// 啟動監控環境
	monitor.Startup(sysCfg.LogLevel)

	log.Println("==========================================")

	// --- 1. 事件儲存層（啟動時探測一次，之後固定）---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventStore := store.Open(ctx, cfg.Store)
	defer eventStore.Close()

	// --- 2. LLM 設定 ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		log.Fatalf("❌ Failed to init LLM client: %v\n", err)
	}

	// --- 3. 工具註冊 ---
	toolRegistry := tools.NewRegistry()
	if sysCfg.EnableTools {
		toolRegistry.Register(tools.NewProfileTool())
		toolRegistry.Register(tools.NewMetricsTool())
		log.Printf("🛠 Registered %d tools\n", len(toolRegistry.GetAll()))
	}

	// --- 4. 核心引擎與摘要排程器 ---
	engine := agent.NewEngine(client, eventStore, toolRegistry, cfg, sysCfg)
	scheduler := summary.NewScheduler(client, eventStore, sysCfg)

	// --- 5. Gateway 初始化（使用 Builder 模式）---
	gw, err := gateway.NewBuilder().
		WithMonitor(monitor.NewCLIMonitor()).
		WithAgentEngine(engine).
		WithConnectHook(func(sessionID, userID string) error {
			_, err := eventStore.CreateSession(ctx, sessionID, userID)
			return err
		}).
		WithDisconnectHook(func(sessionID string) {
			engine.CancelSession(sessionID)
			scheduler.Schedule(sessionID)
		}).
		WithChannel(channels.LoadFromConfig(cfg.Channels, eventStore, sysCfg)...).
		Build()

	if err != nil {
		log.Fatalf("Failed to build gateway: %v\n", err)
	}

	// 回應訊框由 Gateway 遞送
	engine.SetSender(gw)

	// --- 6. 設定檔監看（變更時提示重啟）---
	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")
	go func() {
		for range reloadCh {
			log.Println("⚠️ Configuration changed on disk. Restart to apply.")
		}
	}()

	// 監聽系統信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 等待信號
	<-sigChan
	log.Println("\nReceived shutdown signal. Stopping services...")

	// 執行清理:先停外層連線,再停引擎,最後等待未完成的摘要
	gw.StopAll()
	engine.Shutdown()
	scheduler.Wait()
	log.Println("Bye!")
}
