// Package directory answers membership questions: which chat groups a user
// belongs to on a platform, and whether the user is an active member of the
// community. Adapters are read-only and keep no state beyond caches of what
// groups exist.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable marks a lookup that could not be answered: timeouts,
// transport failures, rate limits and 5xx responses.
var ErrUnavailable = errors.New("directory unavailable")

// Unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, cause)
}

// GroupLister lists the chat groups a user currently belongs to.
type GroupLister interface {
	ListUserGroups(ctx context.Context, userID string) (GroupSet, error)
}

// MembershipChecker validates community membership.
type MembershipChecker interface {
	IsActiveCommunityMember(ctx context.Context, userID string) (bool, error)
}

// Directory is the full membership surface the policy engine consumes.
type Directory interface {
	GroupLister
	MembershipChecker
}

type combined struct {
	GroupLister
	MembershipChecker
}

// Combine pairs a platform group lister with a community checker.
func Combine(groups GroupLister, members MembershipChecker) Directory {
	return combined{GroupLister: groups, MembershipChecker: members}
}

// GroupSet is a set of chat group IDs.
type GroupSet map[string]struct{}

// NewGroupSet builds a set from ids.
func NewGroupSet(ids ...string) GroupSet {
	s := make(GroupSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id; empty IDs are ignored.
func (s GroupSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Has reports membership.
func (s GroupSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Intersect returns the IDs present in both sets.
func (s GroupSet) Intersect(other GroupSet) GroupSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := GroupSet{}
	for id := range small {
		if large.Has(id) {
			out.Add(id)
		}
	}
	return out
}

// Intersects reports whether the sets share at least one ID.
func (s GroupSet) Intersects(other GroupSet) bool {
	return len(s.Intersect(other)) > 0
}

// Sorted returns the IDs in lexical order.
func (s GroupSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// KnownGroups tracks the groups a platform adapter probes when it cannot
// enumerate a user's groups directly: the configured groups plus every group
// the bot has been seen in.
type KnownGroups struct {
	mu  sync.RWMutex
	ids GroupSet
}

// NewKnownGroups seeds the registry.
func NewKnownGroups(ids ...string) *KnownGroups {
	return &KnownGroups{ids: NewGroupSet(ids...)}
}

// Observe records a group the bot is part of.
func (k *KnownGroups) Observe(id string) {
	k.mu.Lock()
	k.ids.Add(id)
	k.mu.Unlock()
}

// Forget drops a group the bot has left.
func (k *KnownGroups) Forget(id string) {
	k.mu.Lock()
	delete(k.ids, id)
	k.mu.Unlock()
}

// List returns a sorted snapshot.
func (k *KnownGroups) List() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ids.Sorted()
}
