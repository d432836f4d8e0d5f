package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/model"
)

var testCalendars = []model.Calendar{
	{ID: "work", Name: "Work", Color: "#1e88e5"},
	{ID: "home", Name: "Home", Color: "#43a047"},
	{ID: "gym", Name: "Gym", Color: "#e53935"},
}

func TestInitSelection_AllVisible(t *testing.T) {
	s := InitSelection(testCalendars)
	assert.Equal(t, Selection{true, true, true}, s)
	assert.Empty(t, InitSelection(nil))
}

func TestSelectionToggle_CopyOnWrite(t *testing.T) {
	s := InitSelection(testCalendars)
	next, err := s.Toggle(1)
	require.NoError(t, err)

	assert.Equal(t, Selection{true, false, true}, next)
	assert.Equal(t, Selection{true, true, true}, s, "receiver is left untouched")

	back, err := next.Toggle(1)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestSelectionToggle_OutOfRange(t *testing.T) {
	s := InitSelection(testCalendars)
	_, err := s.Toggle(3)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Toggle(-1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSelectionVisibility(t *testing.T) {
	v, err := Selection{true, false, true}.Visibility(testCalendars)
	require.NoError(t, err)
	assert.Equal(t, Visibility{"work": true, "home": false, "gym": true}, v)

	_, err = Selection{true}.Visibility(testCalendars)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVisibilityToggle_CopyOnWrite(t *testing.T) {
	v := NewVisibility(testCalendars)
	next := v.Toggle("home")

	assert.False(t, next.Visible("home"))
	assert.True(t, v.Visible("home"), "receiver is left untouched")
	assert.True(t, next.Visible("work"))

	// Toggling an unknown id flips its default.
	var empty Visibility
	assert.False(t, empty.Toggle("new").Visible("new"))
	assert.Nil(t, empty)
}

func TestVisibilityReconcile(t *testing.T) {
	v := Visibility{"work": false, "stale": false}
	got := v.Reconcile(testCalendars)

	assert.Equal(t, Visibility{"work": false, "home": true, "gym": true}, got)
	assert.Equal(t, Selection{false, true, true}, got.Selection(testCalendars))
}
