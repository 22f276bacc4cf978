package entity

import (
	"github.com/tsinghua-fib-lab/aim-sim-oss/clock"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

// 事件记录接口
type IRecorder interface {
	Record(e output.Event)
}

type ITaskContext interface {
	Clock() *clock.Clock
	LaneManager() ILaneManager
	RoadManager() IRoadManager
	JunctionManager() IJunctionManager
	VehicleManager() IVehicleManager
	RuntimeConfig() *config.RuntimeConfig
	Recorder() IRecorder
}
