// Package autoload 匯入所有內建 Channels,觸發各自的 init() 註冊。
package autoload

import (
	_ "aurora/pkg/channels/telegram"
	_ "aurora/pkg/channels/web"
)
