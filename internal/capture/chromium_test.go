package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsNormalize(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:8080/calendar", OutputPath: "/tmp/x.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	o = Options{URL: "u", OutputPath: "p", Width: 800, Height: 480, Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, 480, o.Height)
	assert.Equal(t, time.Second, o.Timeout)
}

func TestCalendarPNG_RequiresTarget(t *testing.T) {
	err := CalendarPNG(context.Background(), Options{OutputPath: "p"})
	assert.ErrorContains(t, err, "URL is required")

	err = CalendarPNG(context.Background(), Options{URL: "u"})
	assert.ErrorContains(t, err, "OutputPath is required")
}
