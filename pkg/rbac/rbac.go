package rbac

import "slices"

// 权限常量
const (
	PermissionCreateProject = "project:create"
	PermissionUpdateProject = "project:update"
	PermissionDeleteProject = "project:delete"

	PermissionCreateTask = "task:create"
	PermissionUpdateTask = "task:update"
	PermissionDeleteTask = "task:delete"

	// 管理员操作
	PermissionReplayOutbox = "outbox:replay"
	PermissionViewAll      = "admin:view_all"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionCreateProject,
		PermissionUpdateProject,
		PermissionDeleteProject,
		PermissionCreateTask,
		PermissionUpdateTask,
		PermissionDeleteTask,
	},
	RoleAdmin: {
		PermissionCreateProject,
		PermissionUpdateProject,
		PermissionDeleteProject,
		PermissionCreateTask,
		PermissionUpdateTask,
		PermissionDeleteTask,
		PermissionReplayOutbox,
		PermissionViewAll,
	},
}

// Principal 请求方身份，由认证中间件从 JWT 中解析
type Principal struct {
	UserID int      `json:"user_id"`
	Roles  []string `json:"roles"`
}

// HasRole 检查是否拥有指定角色
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsAdmin 是否为管理员
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// HasPermission 检查 principal 的任一角色是否包含指定权限
func HasPermission(p Principal, permission string) bool {
	for _, role := range p.Roles {
		if slices.Contains(rolePermissions[role], permission) {
			return true
		}
	}
	return false
}

// CheckPermission 检查权限（返回错误而不是布尔值，便于处理）
func CheckPermission(p Principal, permission string) error {
	if !HasPermission(p, permission) {
		return &PermissionDeniedError{
			UserID:     p.UserID,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// NormalizeRoles 去重并保证至少包含 user 角色
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles)+1)
	out = append(out, RoleUser)
	for _, r := range roles {
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}
