package domain

type GlobalStats struct {
	TotalCommands    int64            `json:"total_commands"`
	DeniedCommands   int64            `json:"denied_commands"`
	PendingApprovals int64            `json:"pending_approvals"`
	DenyRatio        float64          `json:"deny_ratio"`
	TopTools         map[string]int64 `json:"top_tools"`
}
