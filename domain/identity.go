package domain

// Identity is the authenticated principal of a single request.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func (i Identity) IsZero() bool {
	return i.UserID == "" && i.TenantID == ""
}
