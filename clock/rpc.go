package clock

import (
	"context"
	"math"
	"net/http"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"git.fiblab.net/sim/syncer/v3"
)

// Register 在sidecar上挂载ClockService
func (c *Clock) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		clockv1connect.ClockServiceName,
		func(opts ...connect.HandlerOption) (string, http.Handler) {
			return clockv1connect.NewClockServiceHandler(c, opts...)
		},
	)
}

// Now 最近一次Init或Step后的仿真时间（秒）
// 说明：RPC请求与仿真循环并发，读取原子发布的时间而不是T字段
func (c *Clock) Now(
	_ context.Context, _ *connect.Request[clockv1.NowRequest],
) (*connect.Response[clockv1.NowResponse], error) {
	return connect.NewResponse(&clockv1.NowResponse{
		T: math.Float64frombits(c.published.Load()),
	}), nil
}
