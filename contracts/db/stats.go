package db

// ProjectStats 项目统计结果
type ProjectStats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Archived   int            `json:"archived"`
	Overdue    int            `json:"overdue"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
}

// TaskStats 任务统计结果；ProjectID 为 0 表示跨项目统计
type TaskStats struct {
	ProjectID  int            `json:"project_id,omitempty"`
	Total      int            `json:"total"`
	Overdue    int            `json:"overdue"`
	Unassigned int            `json:"unassigned"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
}
