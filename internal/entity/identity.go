package entity

import (
	"strings"

	"github.com/google/uuid"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"

	anonymousPrefix = "anon-"
)

// Identity is who a connection or request acts as.
type Identity struct {
	ID        string `json:"id"`
	Role      string `json:"role,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// NewAnonymousIdentity mints a fresh identity that is never shared between connections.
func NewAnonymousIdentity() Identity {
	return Identity{ID: anonymousPrefix + uuid.NewString(), Anonymous: true}
}

// AnonymousIdentityFrom restores an anonymous session id issued earlier, or mints a new one.
func AnonymousIdentityFrom(sessionID string) Identity {
	id := strings.TrimPrefix(strings.TrimSpace(sessionID), anonymousPrefix)
	if _, err := uuid.Parse(id); err != nil {
		return NewAnonymousIdentity()
	}
	return Identity{ID: anonymousPrefix + id, Anonymous: true}
}

func (i Identity) IsStaff() bool {
	return !i.Anonymous && (i.Role == RoleStaff || i.Role == RoleAdmin)
}
