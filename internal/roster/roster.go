package roster

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for unknown student IDs.
var ErrNotFound = errors.New("student not found")

// Student is the minimal identity the engine needs; authentication and the
// rest of the profile live outside the core.
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Roster is an in-memory student registry.
type Roster struct {
	mu       sync.RWMutex
	students map[string]Student
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{students: make(map[string]Student)}
}

// Upsert registers a student, updating the name when one is supplied.
func (r *Roster) Upsert(id, name string) Student {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		s = Student{ID: id}
	}
	if name != "" {
		s.Name = name
	}
	r.students[id] = s
	return s
}

// Get returns a student by ID.
func (r *Roster) Get(id string) (Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

// List returns all students ordered by ID.
func (r *Roster) List() []Student {
	r.mu.RLock()
	out := make([]Student, 0, len(r.students))
	for _, s := range r.students {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
