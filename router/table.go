/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"sync"

	"github.com/aether-im/aether/xmpp/jid"
)

// routeEntry is a tagged union: it either carries a terminal handler
// or a subtree map, never both.
type routeEntry struct {
	handler Deliverable
	subtree map[string]*routeEntry
}

// Table resolves an address to a deliverable endpoint through a
// three-level tree keyed by domain, node and resource. A single
// reader-writer lock guards the whole tree.
type Table struct {
	mu      sync.RWMutex
	domains map[string]*routeEntry
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{domains: make(map[string]*routeEntry)}
}

// AddRoute binds an address to a handler, returning the handler
// previously bound to that exact address, if any. Deepening an existing
// terminal entry converts it to a subtree, preserving the old handler
// under the empty-string key so the shallower address remains resolvable.
func (t *Table) AddRoute(j *jid.JID, handler Deliverable) Deliverable {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := routeKeys(j)
	entries := t.domains
	for i, key := range keys {
		e := entries[key]
		if e == nil {
			e = &routeEntry{}
			entries[key] = e
		}
		if i == len(keys)-1 {
			return setEntryHandler(e, handler)
		}
		if e.subtree == nil {
			e.subtree = make(map[string]*routeEntry)
			if e.handler != nil {
				e.subtree[""] = &routeEntry{handler: e.handler}
				e.handler = nil
			}
		}
		entries = e.subtree
	}
	return nil
}

// GetRoute resolves an address to its handler. An entry that is
// terminal above the requested depth short-circuits, so a component
// bound at bare-domain level receives deeper addresses.
func (t *Table) GetRoute(j *jid.JID) (Deliverable, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getRoute(j)
}

// GetBestRoute resolves an address to its handler, falling back to the
// bare-address route when the full address has no route. ErrNoSuchRoute
// is returned only when both lookups miss.
func (t *Table) GetBestRoute(j *jid.JID) (Deliverable, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, err := t.getRoute(j)
	if err == nil {
		return h, nil
	}
	if j.IsFull() {
		return t.getRoute(j.ToBareJID())
	}
	return nil, ErrNoSuchRoute
}

// RemoveRoute unbinds an address, returning the removed handler, if
// any. Emptied subtree maps below the domain level are pruned; domain
// entries persist.
func (t *Table) RemoveRoute(j *jid.JID) Deliverable {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := routeKeys(j)

	// walk down keeping the visited path
	var path []pathStep

	entries := t.domains
	for i, key := range keys {
		e := entries[key]
		if e == nil {
			return nil
		}
		path = append(path, pathStep{entries, key})
		if i == len(keys)-1 {
			removed := clearEntryHandler(e)
			t.prune(path)
			return removed
		}
		if e.subtree == nil {
			return nil
		}
		entries = e.subtree
	}
	return nil
}

// GetRoutes returns all handlers bound under a partial address:
// domain-only, domain+node, or a full address.
func (t *Table) GetRoutes(j *jid.JID) []Deliverable {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := routeKeys(j)
	entries := t.domains

	var e *routeEntry
	for i, key := range keys {
		e = entries[key]
		if e == nil {
			return nil
		}
		if i == len(keys)-1 {
			break
		}
		if e.subtree == nil {
			// terminal above requested depth
			if e.handler != nil {
				return []Deliverable{e.handler}
			}
			return nil
		}
		entries = e.subtree
	}
	var handlers []Deliverable
	collectHandlers(e, &handlers)
	return handlers
}

func (t *Table) getRoute(j *jid.JID) (Deliverable, error) {
	keys := routeKeys(j)
	entries := t.domains
	for i, key := range keys {
		e := entries[key]
		if e == nil {
			return nil, ErrNoSuchRoute
		}
		if e.subtree == nil {
			if e.handler != nil {
				return e.handler, nil
			}
			return nil, ErrNoSuchRoute
		}
		if i == len(keys)-1 {
			if se := e.subtree[""]; se != nil && se.handler != nil {
				return se.handler, nil
			}
			return nil, ErrNoSuchRoute
		}
		entries = e.subtree
	}
	return nil, ErrNoSuchRoute
}

// prune removes emptied entries walking the visited path backwards,
// never touching the domain level.
func (t *Table) prune(path []pathStep) {
	for i := len(path) - 1; i >= 1; i-- {
		step := path[i]
		e := step.entries[step.key]
		if e.handler != nil || len(e.subtree) > 0 {
			return
		}
		delete(step.entries, step.key)
	}
}

type pathStep struct {
	entries map[string]*routeEntry
	key     string
}

func setEntryHandler(e *routeEntry, handler Deliverable) Deliverable {
	if e.subtree != nil {
		se := e.subtree[""]
		if se == nil {
			se = &routeEntry{}
			e.subtree[""] = se
		}
		prev := se.handler
		se.handler = handler
		return prev
	}
	prev := e.handler
	e.handler = handler
	return prev
}

func clearEntryHandler(e *routeEntry) Deliverable {
	if e.subtree != nil {
		se := e.subtree[""]
		if se == nil {
			return nil
		}
		removed := se.handler
		se.handler = nil
		if len(se.subtree) == 0 {
			delete(e.subtree, "")
		}
		return removed
	}
	removed := e.handler
	e.handler = nil
	return removed
}

func collectHandlers(e *routeEntry, handlers *[]Deliverable) {
	if e == nil {
		return
	}
	if e.handler != nil {
		*handlers = append(*handlers, e.handler)
	}
	for _, se := range e.subtree {
		collectHandlers(se, handlers)
	}
}

func routeKeys(j *jid.JID) []string {
	keys := []string{j.Domain()}
	if len(j.Node()) > 0 || len(j.Resource()) > 0 {
		keys = append(keys, j.Node())
	}
	if len(j.Resource()) > 0 {
		keys = append(keys, j.Resource())
	}
	return keys
}
