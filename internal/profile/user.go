package profile

// User is the canonical profile resolved from the backend. The role is
// business data owned by the backend, never taken from identity provider
// claims.
type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Role             string `json:"role"`
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
	TenantID         string `json:"tenantId"`
}
