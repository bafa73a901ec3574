package models

import "strings"

// Roles carried in access tokens.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

var rolePrivilege = map[string]int{
	RoleStudent: 1,
	RoleTeacher: 2,
	RoleAdmin:   3,
}

// NormalizeRole lowercases and trims a role claim.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// GraderRoles lists the roles that may write grades and re-run grading.
func GraderRoles() []string {
	return []string{RoleTeacher, RoleAdmin}
}

// IsGraderRole reports whether role belongs to a human grader.
func IsGraderRole(role string) bool {
	return rolePrivilege[NormalizeRole(role)] >= rolePrivilege[RoleTeacher]
}

// IsKnownRole reports whether role is one the grader recognises.
func IsKnownRole(role string) bool {
	_, ok := rolePrivilege[NormalizeRole(role)]
	return ok
}

// HighestRole picks the most privileged known role, falling back to the first non-empty one.
func HighestRole(roles ...string) string {
	best, fallback := "", ""
	for _, role := range roles {
		role = NormalizeRole(role)
		if role == "" {
			continue
		}
		if fallback == "" {
			fallback = role
		}
		if rolePrivilege[role] > rolePrivilege[best] {
			best = role
		}
	}
	if best == "" {
		return fallback
	}
	return best
}
