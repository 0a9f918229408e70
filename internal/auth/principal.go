// Package auth holds the identity values that handlers extract from a
// request and pass explicitly into services and audit calls.
package auth

import "github.com/iliyamo/recital-box-office/internal/model"

// Principal is the authenticated caller. The zero value is an anonymous
// caller.
type Principal struct {
	UserID uint64
	Role   string
	Email  string
}

func (p Principal) Authenticated() bool { return p.UserID != 0 }

func (p Principal) IsAdmin() bool { return p.Role == model.RoleAdmin }

// RequestMeta carries the request facts recorded in the access log.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}
