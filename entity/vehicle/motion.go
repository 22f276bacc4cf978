package vehicle

import (
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

// stopLineTolerance 无预约时越过停止线的距离超过该值则告警
const stopLineTolerance = 1e-6

func newVehicleNode(key float64, value entity.IVehicle) *entity.VehicleNode {
	return &entity.VehicleNode{
		S:     key,
		Value: value,
	}
}

func newShadowNode(key float64, value entity.IVehicle) *entity.VehicleNode {
	return &entity.VehicleNode{
		S:     key,
		Value: value,
		Extra: entity.VehicleNodeExtra{Shadow: true},
	}
}

// stepProfile 本步使用的加速度计划
// 功能：执行已安装的加速度计划时直接使用该计划，否则把本步的加速度包装为只持续一步的计划
// 说明：速度会在步内降到0时，计划在停车时刻结束，避免倒车
func (v *Vehicle) stepProfile(t0, v0, dt float64) *kinematic.AccelProfile {
	if v.action.followProfile && v.profile != nil {
		return v.profile
	}
	a := v.action.a
	if a < 0 && v0 <= 0 {
		a = 0
	}
	tEnd := t0 + dt
	if v0+a*dt < 0 {
		tEnd = t0 + v0/-a
	}
	return kinematic.NewAccelProfile(
		kinematic.Breakpoint{T: t0, A: a},
		kinematic.Breakpoint{T: tEnd, A: 0},
	)
}

// refreshRuntime 运动积分
// 功能：按本步的加速度计划与转向角更新runtime中的位置、速度与变道进度
// 参数：dt-步长
// 返回：是否驶出出口道终点
// 算法说明：
// 1. 用加速度计划精确积分本步的行驶距离与末速度
// 2. 变道中使用阿克曼转向模型：偏转角增量 = 行驶距离 / (车长/2) * tan(转向角)，按平均偏转角分解为纵向与横向位移
// 3. 越过车道终点时沿进口车道->路口内车道->出口车道前进，越过停止线的时刻与速度由加速度计划反解得到
// 4. 没有出口车道（未获得预约）时停在停止线上
func (v *Vehicle) refreshRuntime(dt float64) (arrived bool) {
	rt := v.runtime
	t0 := v.ctx.Clock().T
	v0 := rt.V
	p := v.stepProfile(t0, v0, dt)
	d, v1 := p.Advance(t0, v0, t0+dt)
	d, v1 = math.Max(d, 0), math.Max(v1, 0)
	rt.A = p.AccelAt(t0)

	// 阿克曼转向动力学
	ds, dw, lcYaw := d, 0., 0.
	if rt.LC.IsLC {
		laneWidth := (rt.Lane.Width() + rt.LC.ShadowLane.Width()) / 2
		maxYaw := math.Min(math.Pi/6, math.Asin(math.Min(laneWidth/v.spec.Length, 1)))
		dYaw := d / (v.spec.Length / 2) * math.Tan(v.action.lcPhi)
		oldLCYaw := rt.LC.Yaw
		lcYaw = oldLCYaw + dYaw
		if lcYaw > maxYaw {
			lcYaw = oldLCYaw
		}
		meanYaw := (oldLCYaw + lcYaw) / 2
		// 横向距离与纵向偏移
		dw = d * math.Sin(meanYaw)
		ds = d * math.Cos(meanYaw)
	}

	lane, s := rt.Lane, rt.S+ds
crossing:
	for s > lane.Length() {
		overshoot := s - lane.Length()
		if rt.LC.IsLC {
			v.log.Debugf("skipped the change to %v at the end of %v", rt.Lane, rt.LC.ShadowLane)
			rt.clearLaneChange()
		}
		var next entity.ILane
		switch {
		case lane.InJunction():
			next = lane.Successors()[0]
		case onApproach(lane):
			if v.departure == nil {
				if overshoot > stopLineTolerance {
					v.log.Warnf("stopped at the stop line of %v without reservation, overshoot=%v", lane, overshoot)
				}
				s, v1 = lane.Length(), 0
				break crossing
			}
			junction := lane.ParentRoad().Junction()
			next = junction.Path(lane, v.departure)
			if next == nil {
				log.Panicf("%v: no path from %v to %v in %v", v, lane, v.departure, junction)
			}
			tc, vc, ok := p.AdvanceByDistance(t0, v0, ds-overshoot)
			if !ok {
				tc, vc = t0+dt, v1
			}
			rt.Entered, rt.EnterT, rt.EnterV = true, tc, vc
			v.ctx.Recorder().Record(output.Event{
				T:              tc,
				Vehicle:        v.id,
				IntersectionID: junction.ID(),
				Kind:           output.KindEnter,
				ReservationID:  v.reservationID(),
				Detail:         fmt.Sprintf("v=%.3f path=%d", vc, next.ID()),
			})
		default:
			return true
		}
		lane, s = next, overshoot
	}
	rt.Lane, rt.S, rt.V = lane, s, v1

	if rt.LC.IsLC {
		laneWidth := (rt.Lane.Width() + rt.LC.ShadowLane.Width()) / 2
		rt.LC.CompletedRatio = math.Min(rt.LC.CompletedRatio+dw/laneWidth, 1)
		rt.LC.ShadowS = rt.LC.ShadowLane.ProjectFromLane(rt.Lane, rt.S)
		rt.LC.Yaw = lcYaw
	}
	if v.action.followProfile && v.profile != nil {
		v.profile.Consume(t0 + dt)
	}
	rt.refreshXYZ()
	v.runtime = rt
	return false
}

// updateLaneVehicleNodes 更新车道车辆节点
// 算法说明：
// 1. 所在车道变化时从原车道删除主节点，换一个新节点加入新车道，避免同一节点的删除与插入需要保证先后顺序
// 2. 影子节点随变道的开始、结束与原车道的变化增删
func (v *Vehicle) updateLaneVehicleNodes() {
	if v.snapshot.Lane != v.runtime.Lane {
		v.snapshot.Lane.RemoveVehicle(v.node)
		v.node = newVehicleNode(v.runtime.S, v)
		v.runtime.Lane.AddVehicle(v.node)
	}
	before, after := v.snapshot.LC, v.runtime.LC
	switch {
	case !before.IsLC && !after.IsLC:
	case before.IsLC && !after.IsLC:
		before.ShadowLane.RemoveVehicle(v.shadowNode)
		v.shadowNode = nil
	case !before.IsLC && after.IsLC:
		v.shadowNode = newShadowNode(after.ShadowS, v)
		after.ShadowLane.AddVehicle(v.shadowNode)
	case before.ShadowLane != after.ShadowLane:
		before.ShadowLane.RemoveVehicle(v.shadowNode)
		v.shadowNode = newShadowNode(after.ShadowS, v)
		after.ShadowLane.AddVehicle(v.shadowNode)
	}
}
