package clock_test

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/aim-sim-oss/clock"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

func TestClockStep(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 10, Total: 3, Interval: 0.1})
	assert.InDelta(t, 1.0, c.T, 1e-12)
	assert.False(t, c.Finished())
	for i := 0; i < 3; i++ {
		c.Step()
	}
	assert.True(t, c.Finished())
	assert.Equal(t, int32(13), c.InternalStep)
	// 由步数计算，不累积误差
	assert.Equal(t, float64(13)*0.1, c.T)
	assert.Equal(t, "00:01.30", c.String())

	c.Init()
	assert.Equal(t, int32(10), c.InternalStep)
}

func TestClockNow(t *testing.T) {
	c := clock.New(config.ControlStep{Total: 100, Interval: 0.5})
	c.Step()
	res, err := c.Now(context.Background(), connect.NewRequest(&clockv1.NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Msg.T)

	// 重置后发布起始时间
	c.Init()
	res, err = c.Now(context.Background(), connect.NewRequest(&clockv1.NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 0., res.Msg.T)
}
