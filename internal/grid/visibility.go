package grid

import (
	"fmt"
	"maps"

	"agenda/internal/model"
)

// Selection is the index-aligned visibility form: Selection[i] controls the
// i-th calendar of the set it was built for.
type Selection []bool

// InitSelection returns an all-visible selection for calendars.
func InitSelection(calendars []model.Calendar) Selection {
	s := make(Selection, len(calendars))
	for i := range s {
		s[i] = true
	}
	return s
}

// Toggle returns a copy of s with the flag at index flipped. s is not
// modified.
func (s Selection) Toggle(index int) (Selection, error) {
	if index < 0 || index >= len(s) {
		return nil, fmt.Errorf("%w: toggle index %d out of range [0,%d)", ErrInvalidInput, index, len(s))
	}
	out := make(Selection, len(s))
	copy(out, s)
	out[index] = !out[index]
	return out, nil
}

// Visibility converts s to the identity-keyed form for calendars.
func (s Selection) Visibility(calendars []model.Calendar) (Visibility, error) {
	if len(s) != len(calendars) {
		return nil, fmt.Errorf("%w: %d visibility flags for %d calendars", ErrInvalidInput, len(s), len(calendars))
	}
	v := make(Visibility, len(calendars))
	for i, c := range calendars {
		if _, dup := v[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate calendar id %q", ErrInvalidInput, c.ID)
		}
		v[c.ID] = s[i]
	}
	return v, nil
}

// Visibility maps calendar id to its visible flag. Ids without an entry are
// visible.
type Visibility map[string]bool

// NewVisibility returns an all-visible mapping for calendars.
func NewVisibility(calendars []model.Calendar) Visibility {
	v := make(Visibility, len(calendars))
	for _, c := range calendars {
		v[c.ID] = true
	}
	return v
}

// Visible reports whether events of calendar id should be shown.
func (v Visibility) Visible(id string) bool {
	on, ok := v[id]
	return !ok || on
}

// Toggle returns a copy of v with id flipped. v is not modified.
func (v Visibility) Toggle(id string) Visibility {
	return v.With(id, !v.Visible(id))
}

// With returns a copy of v with id set to visible.
func (v Visibility) With(id string, visible bool) Visibility {
	out := maps.Clone(v)
	if out == nil {
		out = make(Visibility, 1)
	}
	out[id] = visible
	return out
}

// Reconcile rebuilds v for a new calendar set: known ids keep their flag,
// new ids are visible and ids no longer present are dropped.
func (v Visibility) Reconcile(calendars []model.Calendar) Visibility {
	out := make(Visibility, len(calendars))
	for _, c := range calendars {
		out[c.ID] = v.Visible(c.ID)
	}
	return out
}

// Selection converts v back to the index-aligned form for calendars.
func (v Visibility) Selection(calendars []model.Calendar) Selection {
	s := make(Selection, len(calendars))
	for i, c := range calendars {
		s[i] = v.Visible(c.ID)
	}
	return s
}
