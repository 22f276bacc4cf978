package clock

import (
	"fmt"
	"math"
	"sync/atomic"

	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

// Clock 仿真时钟
// 功能：管理仿真步数与仿真时间，每个prepare阶段开始时推进一步
// 说明：T始终由步数计算得到，避免逐步累加带来的浮点误差
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT        float64 // 每步时间间隔（秒）
	StartStep int32   // 起始步
	EndStep   int32   // 结束步，模拟区间[START, END)

	T            float64 // 当前时间（秒）
	InternalStep int32   // 当前步数

	published atomic.Uint64 // 供RPC并发读取的T（math.Float64bits）
}

// New 根据配置创建时钟
// 参数：stepConfig-控制步配置
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:        stepConfig.Interval,
		StartStep: stepConfig.Start,
		EndStep:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 将时钟重置到起始步
func (c *Clock) Init() {
	c.InternalStep = c.StartStep
	c.T = float64(c.InternalStep) * c.DT
	c.published.Store(math.Float64bits(c.T))
}

// Step 推进一步
func (c *Clock) Step() {
	c.InternalStep++
	c.T = float64(c.InternalStep) * c.DT
	c.published.Store(math.Float64bits(c.T))
}

// Finished 是否已到达结束步
func (c *Clock) Finished() bool {
	return c.InternalStep >= c.EndStep
}

// String 格式化为MM:SS.ss
func (c *Clock) String() string {
	m := int(c.T / 60)
	return fmt.Sprintf("%02d:%05.2f", m, c.T-float64(m*60))
}
