// Package ident defines the token identity scheme used throughout the engine.
//
// Token ids are plain integers that encode the workflow instance and the
// fork branch in their decimal representation:
//
//	workflowBase = id - id%100   (identifies the workflow instance/family)
//	branchNumber = id % 100      (0 = root token, 1..99 = fork child)
//
// A fork of a root token 1000000 into three branches produces children
// 1000001, 1000002, 1000003. The encoding caps forks at 99 live branches
// per parent; this is a hard limit of the scheme.
package ident

import (
	"fmt"
	"time"
)

// BranchSpan is the number of ids reserved per workflow instance.
// Branch numbers 1..MaxBranches identify fork children; 0 is the root token.
const (
	BranchSpan  = 100
	MaxBranches = BranchSpan - 1
)

// Default administrative band. Tokens in this range are control-plane
// self-test traffic: routed normally, but excluded from all genealogy,
// join-state, and instrumentation recording.
const (
	DefaultAdminLo = 999_000_000
	DefaultAdminHi = 999_999_999
)

// Token is an in-flight work item. Tokens are value identifiers: no
// component holds a live Token beyond the duration of one hop.
type Token struct {
	// ID encodes workflow base and branch number (see package doc).
	ID int64

	// Deadline is an optional not-after bound. Zero means no deadline.
	Deadline time.Time

	// Attributes carries the decoded payload attributes. May be nil.
	Attributes map[string]any
}

// WithID returns a copy of the token carrying a different id.
// Used when fork children or feed-forward re-entries inherit a payload.
func (t Token) WithID(id int64) Token {
	t.ID = id
	return t
}

// AdminRange is a closed interval of token ids reserved for administrative
// self-test traffic.
type AdminRange struct {
	Lo, Hi int64
}

// DefaultAdminRange returns the standard administrative band.
func DefaultAdminRange() AdminRange {
	return AdminRange{Lo: DefaultAdminLo, Hi: DefaultAdminHi}
}

// Contains reports whether id falls inside the administrative band.
func (r AdminRange) Contains(id int64) bool {
	return id >= r.Lo && id <= r.Hi
}

// WorkflowBase returns the token's workflow instance id (branch zeroed out).
func WorkflowBase(id int64) int64 {
	return id - id%BranchSpan
}

// BranchNumber returns the token's branch number: 0 for a root token,
// 1..99 for a fork child.
func BranchNumber(id int64) int64 {
	return id % BranchSpan
}

// IsRoot reports whether id identifies a root (non-child) token.
func IsRoot(id int64) bool {
	return BranchNumber(id) == 0
}

// ParentID derives the parent id of a fork child. The second return value
// is false for root tokens, which have no parent.
func ParentID(id int64) (int64, bool) {
	branch := BranchNumber(id)
	if branch == 0 {
		return 0, false
	}
	return id - branch, true
}

// ChildID computes the id of fork child number branch under parent.
// The parent must be a root token (parent mod 100 == 0) and branch must
// be in 1..99.
func ChildID(parent int64, branch int) (int64, error) {
	if BranchNumber(parent) != 0 {
		return 0, fmt.Errorf("fork parent %d is not a root token (branch %d)", parent, BranchNumber(parent))
	}
	if branch < 1 || branch > MaxBranches {
		return 0, fmt.Errorf("branch number %d out of range 1..%d", branch, MaxBranches)
	}
	return parent + int64(branch), nil
}
