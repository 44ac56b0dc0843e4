package domain

// Role names carried in the JWT "role" claim.
const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)
