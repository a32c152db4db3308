package access

import "strings"

// RouteTable is the static configuration the Gate decides on.
//
// Public entries match exactly, or as a prefix when they end with "/*".
// Prefixes map each role to the dashboard prefixes it may visit; a path falling under any
// configured prefix is role-scoped.
type RouteTable struct {
	Public       []string
	Prefixes     map[Role][]string
	LoginPages   []string
	Homes        map[Role]string
	SignIn       string
	Unauthorized string
}

const (
	PathRoot         = "/"
	PathUnauthorized = "/unauthorized"
	PathFetchRoles   = "/api/fetch-roles"
	PathFetchStudent = "/api/fetch-students"
)

func DefaultRouteTable() RouteTable {
	return RouteTable{
		Public: []string{
			PathRoot,
			PathFetchRoles,
			PathFetchStudent,
			PathUnauthorized,
			"/auth/*",  // sign-in / sign-out / token refresh
			"/files/*", // signed object URLs carry their own signature
		},
		Prefixes: map[Role][]string{
			RoleAdmin:   {"/admin"},
			RoleFaculty: {"/faculty"},
			RoleStudent: {"/student"},
		},
		LoginPages: []string{PathRoot},
		Homes: map[Role]string{
			RoleAdmin:   "/admin/dashboard",
			RoleFaculty: "/faculty/dashboard",
			RoleStudent: "/student/dashboard",
		},
		SignIn:       PathRoot,
		Unauthorized: PathUnauthorized,
	}
}

func (rt RouteTable) IsPublic(path string) bool {
	for _, p := range rt.Public {
		if strings.HasSuffix(p, "/*") {
			if hasPathPrefix(path, strings.TrimSuffix(p, "/*")) {
				return true
			}
		} else if path == p {
			return true
		}
	}
	return false
}

// ScopedPrefix returns the role-scoped prefix path falls under, if any.
func (rt RouteTable) ScopedPrefix(path string) (string, bool) {
	for _, prefixes := range rt.Prefixes {
		for _, prefix := range prefixes {
			if hasPathPrefix(path, prefix) {
				return prefix, true
			}
		}
	}
	return "", false
}

// Allows reports whether role may visit paths under prefix.
func (rt RouteTable) Allows(role Role, prefix string) bool {
	for _, p := range rt.Prefixes[role] {
		if p == prefix {
			return true
		}
	}
	return false
}

func (rt RouteTable) IsLoginPage(path string) bool {
	for _, p := range rt.LoginPages {
		if path == p {
			return true
		}
	}
	return false
}

func (rt RouteTable) Home(role Role) string {
	if home, ok := rt.Homes[role]; ok {
		return home
	}
	return rt.Unauthorized
}

// hasPathPrefix matches on segment boundaries: "/admin" covers "/admin" and "/admin/x", not "/administrator".
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
