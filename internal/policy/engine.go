// Package policy provides user authorization for the gateway.
//
// A request passes three tiers in order: membership of an allow-listed group,
// an optional Soulink check (the user shares a group with a designated admin),
// and community membership validation. The first failing tier decides the
// verdict. Every failure to obtain an answer is a denial.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frontiertower/towerbot/internal/directory"
)

// Reason is the verdict's reason code.
type Reason string

const (
	ReasonOK                    Reason = "OK"
	ReasonNotInGroup            Reason = "NOT_IN_GROUP"
	ReasonSoulinkNoSharedGroup  Reason = "SOULINK_NO_SHARED_GROUP"
	ReasonMembershipCheckFailed Reason = "MEMBERSHIP_CHECK_FAILED"
	ReasonDirectoryUnavailable  Reason = "DIRECTORY_UNAVAILABLE"
)

// Tiers, in evaluation order.
const (
	TierGroup     = 1
	TierSoulink   = 2
	TierCommunity = 3
)

// Verdict is the result of one evaluation. Allowed is true iff Reason is OK.
// Tier is the tier that produced the verdict.
type Verdict struct {
	Allowed bool
	Reason  Reason
	Tier    int
	Ts      time.Time
	TraceID string
}

func (e *Engine) allow(tier int, traceID string) Verdict {
	return Verdict{Allowed: true, Reason: ReasonOK, Tier: tier, Ts: e.now(), TraceID: traceID}
}

func (e *Engine) deny(tier int, reason Reason, traceID string) Verdict {
	return Verdict{Allowed: false, Reason: reason, Tier: tier, Ts: e.now(), TraceID: traceID}
}

// Request is one authorization question.
type Request struct {
	UserID         string
	AdminID        string
	RequiredGroups directory.GroupSet
	SoulinkEnabled bool
	TraceID        string
}

// Authorizer evaluates requests.
type Authorizer interface {
	// Authorize runs all tiers.
	Authorize(ctx context.Context, req Request) Verdict
	// CheckGroups runs the group-membership tier only.
	CheckGroups(ctx context.Context, userID string, required directory.GroupSet) Verdict
}

// Engine is the directory-backed Authorizer. It holds no per-user state:
// every call asks the directory again.
type Engine struct {
	dir     directory.Directory
	timeout time.Duration
	now     func() time.Time
}

// NewEngine creates an engine. Each directory call is bounded by timeout.
func NewEngine(dir directory.Directory, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{dir: dir, timeout: timeout, now: time.Now}
}

// CheckGroups reports whether userID belongs to at least one required group.
func (e *Engine) CheckGroups(ctx context.Context, userID string, required directory.GroupSet) Verdict {
	v, _ := e.groupTier(ctx, userID, required, "")
	return v
}

// Authorize evaluates the tiers in order and stops at the first denial.
func (e *Engine) Authorize(ctx context.Context, req Request) Verdict {
	v, userGroups := e.groupTier(ctx, req.UserID, req.RequiredGroups, req.TraceID)
	if !v.Allowed {
		return v
	}

	if req.SoulinkEnabled {
		if !e.sharesGroupWithAdmin(ctx, req, userGroups) {
			return e.deny(TierSoulink, ReasonSoulinkNoSharedGroup, req.TraceID)
		}
	}

	active, err := e.isActiveMember(ctx, req.UserID)
	if err != nil {
		e.logFailure("community membership", err)
		return e.deny(TierCommunity, ReasonMembershipCheckFailed, req.TraceID)
	}
	if !active {
		return e.deny(TierCommunity, ReasonMembershipCheckFailed, req.TraceID)
	}
	return e.allow(TierCommunity, req.TraceID)
}

func (e *Engine) groupTier(ctx context.Context, userID string, required directory.GroupSet, traceID string) (Verdict, directory.GroupSet) {
	if userID == "" {
		return e.deny(TierGroup, ReasonNotInGroup, traceID), nil
	}
	groups, err := e.listGroups(ctx, userID)
	if err != nil {
		e.logFailure("user groups", err)
		return e.deny(TierGroup, ReasonDirectoryUnavailable, traceID), nil
	}
	if !groups.Intersects(required) {
		return e.deny(TierGroup, ReasonNotInGroup, traceID), groups
	}
	return e.allow(TierGroup, traceID), groups
}

// sharesGroupWithAdmin reuses the tier-1 answer for the user and fetches the
// admin's groups. A missing admin or failed lookup is a denial.
func (e *Engine) sharesGroupWithAdmin(ctx context.Context, req Request, userGroups directory.GroupSet) bool {
	if req.AdminID == "" {
		slog.Error("Policy: soulink enabled without an admin id")
		return false
	}
	adminGroups, err := e.listGroups(ctx, req.AdminID)
	if err != nil {
		e.logFailure("admin groups", err)
		return false
	}
	return userGroups.Intersects(adminGroups)
}

func (e *Engine) listGroups(ctx context.Context, userID string) (groups directory.GroupSet, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			groups, err = nil, directory.Unavailable("list groups", fmt.Errorf("panic: %v", r))
		}
	}()
	groups, err = e.dir.ListUserGroups(ctx, userID)
	if err == nil && ctx.Err() != nil {
		// An adapter that ignores its context still counts as timed out.
		err = directory.Unavailable("list groups", ctx.Err())
	}
	return groups, err
}

func (e *Engine) isActiveMember(ctx context.Context, userID string) (active bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			active, err = false, directory.Unavailable("community membership", fmt.Errorf("panic: %v", r))
		}
	}()
	active, err = e.dir.IsActiveCommunityMember(ctx, userID)
	if err == nil && ctx.Err() != nil {
		err = directory.Unavailable("community membership", ctx.Err())
	}
	return active, err
}

func (e *Engine) logFailure(what string, err error) {
	if errors.Is(err, directory.ErrUnavailable) {
		slog.Warn("Policy: directory unavailable", "lookup", what, "error", err)
		return
	}
	slog.Warn("Policy: directory lookup failed", "lookup", what, "error", err)
}
