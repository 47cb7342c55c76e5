package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// All is the sentinel capability meaning unrestricted access.
const All = "All"

var (
	ErrEntryEmpty     = errors.New("catalog entry is required")
	ErrEntryDuplicate = errors.New("catalog entry is duplicated")
	ErrEntryReserved  = errors.New("catalog entry is reserved")
)

// set is an immutable ordered set of strings compared by exact identity.
type set struct {
	entries []string
	index   map[string]struct{}
}

func newSet(entries []string) (set, error) {
	s := set{
		entries: make([]string, 0, len(entries)),
		index:   make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			return set{}, ErrEntryEmpty
		}
		if _, ok := s.index[e]; ok {
			return set{}, fmt.Errorf("%w: %s", ErrEntryDuplicate, e)
		}
		s.index[e] = struct{}{}
		s.entries = append(s.entries, e)
	}
	return s, nil
}

func (s set) list() []string {
	return slices.Clone(s.entries)
}

func (s set) contains(e string) bool {
	_, ok := s.index[e]
	return ok
}

// Permissions is the fixed set of capability tags available to roles.
type Permissions struct {
	set
}

// NewPermissions builds the catalog from the configured tags. The All
// sentinel is always accepted by Contains and must not be listed.
func NewPermissions(tags []string) (*Permissions, error) {
	if slices.Contains(tags, All) {
		return nil, fmt.Errorf("%w: %s", ErrEntryReserved, All)
	}
	s, err := newSet(tags)
	if err != nil {
		return nil, fmt.Errorf("permission catalog: %w", err)
	}
	return &Permissions{set: s}, nil
}

// List returns the tags in configured order.
func (p *Permissions) List() []string {
	return p.list()
}

// Contains reports whether tag is assignable. All is always assignable.
func (p *Permissions) Contains(tag string) bool {
	return tag == All || p.contains(tag)
}

// Departments is the fixed list of organizational units a user can belong to.
type Departments struct {
	set
}

func NewDepartments(names []string) (*Departments, error) {
	s, err := newSet(names)
	if err != nil {
		return nil, fmt.Errorf("department catalog: %w", err)
	}
	return &Departments{set: s}, nil
}

func (d *Departments) List() []string {
	return d.list()
}

func (d *Departments) Contains(name string) bool {
	return d.contains(name)
}
