package api

import (
    "net/http"
    "strings"

    "amburoute/internal/auth"
)

type Principal struct {
	Tenant string
	Role   string // admin, dispatcher, viewer
}

// getPrincipal extracts tenant and role from a bearer token or, without one, from headers.
// Header fallback keeps local tooling simple: X-Tenant-Id defaults to t_demo and X-Role to admin.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Tenant: pr.Tenant, Role: pr.Role}
        }
        return Principal{}
    }
    tenant := r.Header.Get("X-Tenant-Id")
    role := strings.ToLower(r.Header.Get("X-Role"))
    if tenant == "" {
        tenant = "t_demo"
    }
    if role == "" {
        role = auth.RoleAdmin
    }
    return Principal{Tenant: tenant, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// CanDispatch reports whether the principal may start simulations.
func (p Principal) CanDispatch() bool { return p.IsAdmin() || p.Role == auth.RoleDispatcher }

// Known reports whether a tenant was resolved; a rejected bearer token yields the zero principal.
func (p Principal) Known() bool { return p.Tenant != "" }
