package auth

// Permission codes checked by the API handlers.
const (
	PermissionActivityManage = "activity:manage"
)
