package tools

import (
	"context"
	"fmt"
)

// ProfileTool 查詢使用者個人資料（模擬資料來源）
type ProfileTool struct{}

func NewProfileTool() *ProfileTool {
	return &ProfileTool{}
}

func (t *ProfileTool) Name() string {
	return "fetch_user_profile"
}

func (t *ProfileTool) Description() string {
	return "Fetch user profile information including name, email, and account status"
}

func (t *ProfileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{
				"type":        "string",
				"description": "The user ID to fetch profile for",
			},
		},
		"required": []string{"user_id"},
	}
}

// knownProfiles 是固定的示範帳號
var knownProfiles = map[string]map[string]any{
	"user1": {
		"name":              "Alice Johnson",
		"email":             "alice@example.com",
		"account_status":    "active",
		"subscription_tier": "premium",
		"created_at":        "2023-06-15",
	},
	"user2": {
		"name":              "Bob Smith",
		"email":             "bob@example.com",
		"account_status":    "active",
		"subscription_tier": "free",
		"created_at":        "2024-01-20",
	},
}

func (t *ProfileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	userID, ok := args["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("missing string parameter 'user_id'")
	}

	profile, ok := knownProfiles[userID]
	if !ok {
		// 未知帳號回傳合成的 pending 檔案，而不是錯誤
		short := userID
		if len(short) > 8 {
			short = short[:8]
		}
		profile = map[string]any{
			"name":              "User " + short,
			"email":             userID + "@example.com",
			"account_status":    "pending",
			"subscription_tier": "free",
			"created_at":        "2024-01-01",
		}
	}

	result := map[string]any{"user_id": userID}
	for k, v := range profile {
		result[k] = v
	}
	return result, nil
}
