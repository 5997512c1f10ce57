// Package identity resolves group and account membership for performer resolution.
package identity

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrGroupNotFound indicates the group is unknown to the directory.
var ErrGroupNotFound = errors.New("group not found")

// Directory is the identity/account service the engine depends on.
type Directory interface {
	// GroupMembers returns the active members of the group at call time.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	// IsAccountUser reports whether userID is an active user of the account.
	IsAccountUser(ctx context.Context, accountID, userID string) (bool, error)
}

// Static is an in-memory Directory, seeded from configuration or by tests.
type Static struct {
	mu       sync.RWMutex
	groups   map[string][]string
	accounts map[string][]string
}

// NewStatic creates a Static directory from group and account membership maps.
func NewStatic(groups, accounts map[string][]string) *Static {
	s := &Static{
		groups:   make(map[string][]string),
		accounts: make(map[string][]string),
	}

	for id, members := range groups {
		s.groups[id] = slices.Clone(members)
	}

	for id, users := range accounts {
		s.accounts[id] = slices.Clone(users)
	}

	return s
}

// SetGroupMembers replaces the membership of a group.
func (s *Static) SetGroupMembers(groupID string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[groupID] = slices.Clone(members)
}

// AddAccountUser registers userID as an active user of the account.
func (s *Static) AddAccountUser(accountID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.accounts[accountID], userID) {
		s.accounts[accountID] = append(s.accounts[accountID], userID)
	}
}

func (s *Static) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}

	return slices.Clone(members), nil
}

// IsAccountUser accepts any user for accounts the directory knows nothing about.
func (s *Static) IsAccountUser(_ context.Context, accountID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, ok := s.accounts[accountID]
	if !ok {
		return true, nil
	}

	return slices.Contains(users, userID), nil
}
