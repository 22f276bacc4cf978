package entity

import (
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	Init(pbs []*input.Lane) // 初始化

	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)

	Prepare() // 准备阶段：应用车辆链表的增删
}

// entity/road/manager.go的依赖倒置
type IRoadManager interface {
	Init(pbs []*input.Road, laneManager ILaneManager)   // 初始化
	InitAfterJunction(junctionManager IJunctionManager) // 初始化所有Road的Junction关系

	// 输入Road ID，查找Road，如果不存在则panic
	Get(id int32) IRoad
	// 输入Road ID，查找Road，如果不存在则返回error
	GetOrError(id int32) (IRoad, error)
	// 第arm个方向的进口道或出口道
	GetByArm(arm int, incoming bool) IRoad
}

// entity/junction/manager.go的依赖倒置
type IJunctionManager interface {
	Init(pbs []*input.Junction, laneManager ILaneManager, roadManager IRoadManager) // 初始化

	// 输入Junction ID，查找Junction，如果不存在则panic
	Get(id int32) IJunction
	// 输入Junction ID，查找Junction，如果不存在则返回error
	GetOrError(id int32) (IJunction, error)

	Prepare() // 准备阶段：各路口管理器处理上一步收到的消息并回复
}

// entity/vehicle/manager.go的依赖倒置
type IVehicleManager interface {
	// 初始化
	Init(vehicles []input.Vehicle)

	// 输入Vehicle ID，查找正在行驶的车辆，如果不存在则panic
	Get(id int32) IVehicle
	// 输入Vehicle ID，查找正在行驶的车辆，如果不存在则返回error
	GetOrError(id int32) (IVehicle, error)
	// 投递路口管理器的回复
	Deliver(vehicleID int32, msg protocol.Message)
	// 所有车辆是否都已结束行程
	Finished() bool

	PrepareNode()      // 准备阶段：链表节点更新
	Prepare()          // 准备阶段：snapshot更新与车辆出发
	Update(dt float64) // 更新阶段
}
