// Package view defines the closed set of dashboard views and the selector
// that tracks which one is visible.
package view

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

type ID int32

const (
	Activities ID = iota
	Tasks
	Statistics
	Graphs
	Console

	count
)

var names = [count]string{"activities", "tasks", "statistics", "graphs", "console"}

// Default is the first tab.
const Default = Activities

func (id ID) Valid() bool { return id >= 0 && id < count }

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("view(%d)", int32(id))
	}
	return names[id]
}

// Title is the tab label.
func (id ID) Title() string {
	s := id.String()
	if !id.Valid() {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Next and Prev cycle through All, wrapping around.
func (id ID) Next() ID {
	if !id.Valid() {
		return Default
	}
	return (id + 1) % count
}

func (id ID) Prev() ID {
	if !id.Valid() {
		return Default
	}
	return (id + count - 1) % count
}

func All() []ID {
	out := make([]ID, 0, count)
	for id := ID(0); id < count; id++ {
		out = append(out, id)
	}
	return out
}

// ParseID accepts a view name ("graphs") or its 1-based tab number ("4").
func ParseID(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id := ID(0); id < count; id++ {
		if names[id] == s {
			return id, nil
		}
	}
	if len(s) == 1 && s[0] >= '1' && s[0] < '1'+byte(count) {
		return ID(s[0] - '1'), nil
	}
	return Default, fmt.Errorf("view: unknown view %q (want one of %s)", s, strings.Join(names[:], ", "))
}

// Selector holds the active view.
// SetActive is called from the terminal goroutine, Active from the render goroutine.
type Selector struct {
	active atomic.Int32

	mu       sync.Mutex
	onChange []func(ID)
}

func NewSelector(initial ID) *Selector {
	if !initial.Valid() {
		initial = Default
	}
	s := &Selector{}
	s.active.Store(int32(initial))
	return s
}

func (s *Selector) Active() ID { return ID(s.active.Load()) }

// SetActive switches the active view. Invalid ids are rejected.
// Hooks run only when the view actually changes.
func (s *Selector) SetActive(id ID) bool {
	if !id.Valid() {
		return false
	}
	if prev := ID(s.active.Swap(int32(id))); prev == id {
		return true
	}
	s.mu.Lock()
	hooks := slices.Clone(s.onChange)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(id)
	}
	return true
}

// OnChange registers fn to run after every view change, on the caller's goroutine.
func (s *Selector) OnChange(fn func(ID)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}
