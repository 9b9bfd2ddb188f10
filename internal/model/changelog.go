package model

import "time"

// ChangeLog 状态变更记录，只追加，不更新
type ChangeLog struct {
	ID        int       `json:"id"`
	TaskID    *int      `json:"task_id"`
	ProjectID *int      `json:"project_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Remark    string    `json:"remark"`
	CreatedAt time.Time `json:"created_at"`
}
