package junction

import (
	"github.com/tsinghua-fib-lab/aim-sim-oss/clock"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

// 依赖倒置，表达junction对任务上下文的需求

// IContext 路口与路口管理器使用的任务上下文
type IContext interface {
	Clock() *clock.Clock
	RuntimeConfig() *config.RuntimeConfig
	VehicleManager() entity.IVehicleManager // 回复投递
	Recorder() entity.IRecorder
}
