package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
)

const (
	idmTheta = 4 // IDM模型参数（智能驾驶模型参数）
)

// action 车辆在一个仿真步内的驾驶行为
type action struct {
	set           bool    // 本步是否已选择驾驶行为
	followProfile bool    // 是否执行已安装的加速度计划
	a             float64 // 不执行加速度计划时的加速度
	lcPhi         float64 // 变道过程的前轮角度（弧度）
}

// Pilot 车辆的底层驾驶行为
// 功能：实现协商状态机可选择的跟驰、执行计划、刹停、通过路口与变道转向
// 说明：每个行为只写入本步的action，由运动积分统一执行
type Pilot struct {
	v  *Vehicle
	dt float64
}

func newPilot(v *Vehicle, dt float64) *Pilot {
	return &Pilot{v: v, dt: dt}
}

// followImpl 跟车模型核心实现
// 功能：实现智能驾驶模型(IDM)的跟车逻辑
// 参数：selfV-本车速度，targetV-目标速度，aheadV-前车速度，distance-车距，minGap-最小车距，headway-安全车头时距
// 返回：计算得到的加速度（米/秒²）
// 算法说明：
// 1. 距离小于等于0时紧急制动
// 2. 期望车距：s_star = minGap + max(0, v*headway + v*(v-v_ahead)/(2*sqrt(a*b)))
// 3. 加速度：a = maxA * (1 - (v/targetV)^4 - (s_star/distance)^2)，限制在制动和加速范围内
func (p *Pilot) followImpl(
	selfV, targetV, aheadV, distance, minGap, headway float64,
) float64 {
	attr := p.v.attr
	var acc float64
	if distance <= 0 {
		acc = -mathutil.INF
	} else {
		// https://en.wikipedia.org/wiki/Intelligent_driver_model
		sStar := minGap + math.Max(
			0,
			selfV*headway+selfV*(selfV-aheadV)/2/math.Sqrt(-attr.UsualBrakingAcceleration*attr.MaxAcceleration),
		)
		acc = attr.MaxAcceleration * (1 - math.Pow(selfV/targetV, idmTheta) - math.Pow(sStar/distance, 2))
	}
	return lo.Clamp(acc, attr.MaxBrakingAcceleration, attr.MaxAcceleration)
}

// follow 使用车辆自身的最小车距与车头时距跟车
func (p *Pilot) follow(targetV, aheadV, distance float64) float64 {
	return p.followImpl(p.v.V(), targetV, aheadV, distance, p.v.attr.MinGap, p.v.attr.Headway)
}

// stop 在指定距离内刹停
// 说明：停车时预判一个步长，而不需要按照跟车的headway进行计算
func (p *Pilot) stop(targetV, distance float64) float64 {
	return p.followImpl(p.v.V(), targetV, 0, distance, 0, p.dt)
}

func (p *Pilot) targetV(lane entity.ILane) float64 {
	return math.Min(p.v.attr.MaxSpeed, lane.MaxV())
}

// nextLane 车辆驶过lane终点后进入的车道，未知时为nil
func (p *Pilot) nextLane(lane entity.ILane) entity.ILane {
	switch {
	case lane.InJunction():
		return lane.Successors()[0]
	case onApproach(lane) && p.v.departure != nil:
		return lane.ParentRoad().Junction().Path(lane, p.v.departure)
	default:
		return nil
	}
}

// laneAcc 在lane上跟随前车的加速度
// 算法说明：
// 1. lane上前方没有车辆时，向前看一条车道
// 2. 在进口道上且没有出口车道时，在停止线前停车
func (p *Pilot) laneAcc(lane entity.ILane) float64 {
	v := p.v
	targetV := p.targetV(lane)
	acc := p.follow(targetV, 0, math.Inf(1))
	if gap, aheadV, ok := v.GapAhead(lane); ok {
		acc = math.Min(acc, p.follow(targetV, aheadV, gap))
	} else if next := p.nextLane(lane); next != nil {
		if node := next.Vehicles().First(); node != nil && node.Value != entity.IVehicle(v) {
			gap := lane.Length() - v.positionOn(lane) + node.S - node.Value.Length()
			acc = math.Min(acc, p.follow(targetV, node.V(), gap))
		}
	}
	if onApproach(lane) && v.departure == nil {
		acc = math.Min(acc, p.stop(targetV, lane.Length()-v.positionOn(lane)))
	}
	return acc
}

func (p *Pilot) setAcc(a float64) {
	p.v.action = action{set: true, a: a}
}

// FollowLane 跟驰（IDM），无预约时在停止线前停车
func (p *Pilot) FollowLane() {
	p.setAcc(p.laneAcc(p.v.Lane()))
}

// FollowProfile 沿车道执行已安装的加速度计划，没有计划时跟驰
func (p *Pilot) FollowProfile() {
	if p.v.profile == nil {
		p.FollowLane()
		return
	}
	p.v.action = action{set: true, followProfile: true}
}

// Stop 以最大制动加速度立即减速到停车
func (p *Pilot) Stop() {
	v := p.v
	v.profile = kinematic.StopProfile(v.Now(), v.V(), v.spec.MaxDeceleration)
	v.action = action{set: true, followProfile: true}
}

// Traverse 在路口内执行预约的加速度计划
func (p *Pilot) Traverse() {
	p.FollowProfile()
}

// SteerToLane 向目标车道横向移动，同时保持对所在车道、目标车道与原车道前车的跟驰
func (p *Pilot) SteerToLane(target entity.ILane) {
	v := p.v
	lanes := []entity.ILane{v.Lane(), target}
	if v.snapshot.LC.IsLC {
		lanes = append(lanes, v.snapshot.LC.ShadowLane)
	}
	acc := lo.Min(lo.Map(lo.Uniq(lanes), func(l entity.ILane, _ int) float64 {
		return p.laneAcc(l)
	}))
	v.action = action{set: true, a: acc, lcPhi: getLCPhi(v.V())}
}

// getLCPhi 计算车辆前轮转角
// 算法说明：φ = max(30 - 0.8*v, 5)度，车速越快转角越小
func getLCPhi(v float64) float64 {
	const K = (5.0 - 25.0) / (25.0 - 0.0)
	const B = 30.0
	return math.Max(K*v+B, 5) * math.Pi / 180
}
