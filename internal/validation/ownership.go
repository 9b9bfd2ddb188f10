package validation

import "taskhive/pkg/rbac"

// Owned 可判断归属用户的实体
type Owned interface {
	OwnerUserID() int
}

// CanMutate admin 或实体所有者可以修改
func CanMutate(entity Owned, p rbac.Principal) bool {
	return p.IsAdmin() || entity.OwnerUserID() == p.UserID
}
