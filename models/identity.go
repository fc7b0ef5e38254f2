package models

// CallerIdentity is the opaque identity attached to inbound requests by the
// host's auth layer. The core only reads it for ownership and role checks;
// how it was established is not this service's concern.
type CallerIdentity struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the caller carries the given role.
func (c CallerIdentity) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
