// Package autoload 匯入所有內建 LLM Providers,觸發各自的 init() 註冊。
package autoload

import (
	_ "aurora/pkg/llm/gemini"
	_ "aurora/pkg/llm/ollama"
	_ "aurora/pkg/llm/openailm"
)
