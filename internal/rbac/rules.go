package rbac

const (
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"quiz:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
	},
	RoleInstructor: {
		"quiz:view",
		"quiz:create",
		"quiz:edit-own",
		"quiz:assign",
		"attempt:view-all",
		"batch:*",
		"users:list",
		// instructors may preview their own quizzes
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
	},
	RoleAdmin: {
		"*",
	},
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}
