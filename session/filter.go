/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package session

import (
	"sort"
	"time"
)

// SortOrder determines the ordering applied to a filtered session set.
type SortOrder int

const (
	// SortByOnlineTime orders sessions by descending online time,
	// longest connected first.
	SortByOnlineTime SortOrder = iota

	// SortByUsername orders sessions by username, ties broken by resource.
	SortByUsername
)

// Filter selects and pages over the live session set.
// Zero values leave the corresponding criterion unbound.
type Filter struct {
	Username string

	CreatedFrom time.Time
	CreatedTo   time.Time

	LastActiveFrom time.Time
	LastActiveTo   time.Time

	MinPacketCount int64
	MaxPacketCount int64

	SortBy SortOrder
	Offset int
	Limit  int
}

func (f *Filter) matches(s *Session) bool {
	if len(f.Username) > 0 && s.Username() != f.Username {
		return false
	}
	created := s.CreationTime()
	if !f.CreatedFrom.IsZero() && created.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && created.After(f.CreatedTo) {
		return false
	}
	lastActive := s.LastActiveTime()
	if !f.LastActiveFrom.IsZero() && lastActive.Before(f.LastActiveFrom) {
		return false
	}
	if !f.LastActiveTo.IsZero() && lastActive.After(f.LastActiveTo) {
		return false
	}
	packets := s.TotalPacketCount()
	if packets < f.MinPacketCount {
		return false
	}
	if f.MaxPacketCount > 0 && packets > f.MaxPacketCount {
		return false
	}
	return true
}

// Sessions returns the live sessions matching a filter, sorted and
// paged. A nil filter selects every session.
func (m *Manager) Sessions(filter *Filter) []*Session {
	var selected []*Session

	m.mu.RLock()
	for _, sm := range m.users {
		for _, s := range sm.resources {
			if filter == nil || filter.matches(s) {
				selected = append(selected, s)
			}
		}
	}
	m.mu.RUnlock()

	m.anonMu.RLock()
	for _, s := range m.anonymous {
		if filter == nil || filter.matches(s) {
			selected = append(selected, s)
		}
	}
	m.anonMu.RUnlock()

	sortBy := SortByOnlineTime
	if filter != nil {
		sortBy = filter.SortBy
	}
	switch sortBy {
	case SortByUsername:
		sort.Slice(selected, func(i, j int) bool {
			if selected[i].Username() != selected[j].Username() {
				return selected[i].Username() < selected[j].Username()
			}
			return selected[i].Resource() < selected[j].Resource()
		})
	default:
		sort.Slice(selected, func(i, j int) bool {
			return selected[i].CreationTime().Before(selected[j].CreationTime())
		})
	}
	if filter == nil {
		return selected
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(selected) {
			return nil
		}
		selected = selected[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(selected) {
		selected = selected[:filter.Limit]
	}
	return selected
}
