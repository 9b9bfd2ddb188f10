package db

// DeletePlan 删除项目时将被移除的行
type DeletePlan struct {
	ProjectID    int   `json:"project_id"`
	TaskIDs      []int `json:"task_ids"`
	ChangeLogIDs []int `json:"change_log_ids"`
}

// Rows 计划删除的总行数（含项目本身）
func (p DeletePlan) Rows() int {
	return 1 + len(p.TaskIDs) + len(p.ChangeLogIDs)
}
