package vehicle

import (
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
)

// lcRuntime 变道运行时数据结构
// 功能：记录车辆变道过程中的状态信息，包括原车道、位置映射、转向角度等
type lcRuntime struct {
	IsLC           bool         // 变道状态
	ShadowLane     entity.ILane // 变道前所在车道，保留影子节点
	ShadowS        float64      // 映射到变道前所在车道的位置
	Yaw            float64      // 车头相对于前进方向的偏转角（弧度，总是为正）
	CompletedRatio float64      // 已完成的横向移动比例
}

// runtime 车辆运行时数据结构
// 说明：该数据结构需要可以被直接复制，不应产生浅拷贝带来的副作用
type runtime struct {
	Lane entity.ILane   // 所在车道
	S    float64        // 车头在车道上的位置
	V    float64        // 速度
	A    float64        // 本步执行的加速度
	XYZ  geometry.Point // 车头位置

	LC lcRuntime // 仅当LC.IsLC为true时有意义

	// 车头越过停止线的时刻与速度
	Entered        bool
	EnterT, EnterV float64
}

// clearLaneChange 清除变道状态
func (rt *runtime) clearLaneChange() {
	rt.LC = lcRuntime{}
}

// refreshXYZ 根据车道位置与变道进度计算坐标
func (rt *runtime) refreshXYZ() {
	xyz := rt.Lane.GetPositionByS(rt.S)
	if rt.LC.IsLC {
		shadowXYZ := rt.LC.ShadowLane.GetPositionByS(rt.LC.ShadowS)
		xyz = geometry.Blend(shadowXYZ, xyz, rt.LC.CompletedRatio)
	}
	rt.XYZ = xyz
}
