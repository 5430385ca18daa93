package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureLog struct {
	lines []string
}

func (c *captureLog) Close()                                    {}
func (c *captureLog) Debugf(format string, a ...interface{})    { c.lines = append(c.lines, format) }
func (c *captureLog) Infof(format string, a ...interface{})     { c.lines = append(c.lines, format) }
func (c *captureLog) Warnf(format string, a ...interface{})     { c.lines = append(c.lines, format) }
func (c *captureLog) Errorf(format string, a ...interface{})    { c.lines = append(c.lines, format) }
func (c *captureLog) Criticalf(format string, a ...interface{}) { c.lines = append(c.lines, format) }

func TestThrottleWarnf(t *testing.T) {
	c := &captureLog{}
	th := NewThrottle(time.Hour)
	th.Warnf(c, "dropped %v", 1)
	th.Warnf(c, "dropped %v", 2)
	th.Warnf(c, "dropped %v", 3)
	require.Equal(t, []string{"dropped %v"}, c.lines)

	// Once the interval has passed, the next warning reports what was suppressed
	th.last = time.Now().Add(-2 * time.Hour)
	th.Warnf(c, "dropped %v", 4)
	require.Equal(t, []string{"dropped %v", "dropped %v (%v similar messages suppressed)"}, c.lines)
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(30 * time.Second)
	t0 := time.Now()
	ok, n := th.Allow(t0)
	require.True(t, ok)
	require.Equal(t, 0, n)
	ok, _ = th.Allow(t0.Add(time.Second))
	require.False(t, ok)
	ok, _ = th.Allow(t0.Add(2 * time.Second))
	require.False(t, ok)
	ok, n = th.Allow(t0.Add(31 * time.Second))
	require.True(t, ok)
	require.Equal(t, 2, n)
}
