package coordinator

import (
	"math"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

// ILaneChangePilot 变道子状态机使用的驾驶行为
type ILaneChangePilot interface {
	FollowLane()
	SteerToLane(target entity.ILane)
}

// LaneChanger 变道子状态机
// 功能：管理一次变道尝试，从等待变道时机到车身完全进入目标车道
// 说明：每次尝试前调用Reset，结果通过Step的返回值与Succeeded报告给上层状态机
type LaneChanger struct {
	vehicle           entity.ILaneChangeVehicle
	pilot             ILaneChangePilot
	navigator         entity.INavigator
	params            config.LaneChange
	followingDistance float64

	state     LaneChangeState
	succeeded bool
	target    entity.ILane // 目标车道（相邻车道），不可变道时为nil
	startTime float64      // 本次尝试开始的时刻

	log *logrus.Entry
}

// NewLaneChanger 创建变道子状态机
// 参数：followingDistance-判断前方空档时在制动距离之外保留的跟车距离
func NewLaneChanger(
	vehicle entity.ILaneChangeVehicle,
	pilot ILaneChangePilot,
	navigator entity.INavigator,
	params config.LaneChange,
	followingDistance float64,
) *LaneChanger {
	return &LaneChanger{
		vehicle:           vehicle,
		pilot:             pilot,
		navigator:         navigator,
		params:            params,
		followingDistance: followingDistance,
		state:             LaneChangeEnded,
		log:               log.WithField("vehicle", vehicle.ID()),
	}
}

// State 当前状态
func (lc *LaneChanger) State() LaneChangeState {
	return lc.state
}

// Succeeded 变道是否成功，仅在LaneChangeEnded状态下有意义
func (lc *LaneChanger) Succeeded() bool {
	return lc.succeeded
}

// Target 目标车道
func (lc *LaneChanger) Target() entity.ILane {
	return lc.target
}

// Reset 开始一次新的变道尝试
// 功能：根据路线计算路口处的转向，检查当前车道是否允许该转向，不允许时选择朝允许车道方向的相邻车道为目标
// 返回：是否需要并且能够变道
// 算法说明：
// 1. 只在进口道上变道
// 2. 在本道路中找到与当前车道序号最接近的、允许该转向的车道，目标为朝它一侧的相邻车道
// 3. 相邻车道不存在或距路口过近时不可变道
func (lc *LaneChanger) Reset() bool {
	v := lc.vehicle
	lc.state = WaitingToChange
	lc.succeeded = false
	lc.target = nil
	lc.startTime = v.Now()

	lane := v.Lane()
	road := lane.ParentRoad()
	if lane.InJunction() || road == nil || !road.IsIncoming() {
		return lc.giveUp()
	}
	departure := lc.navigator.NextRoad(lane, v.Destination())
	turn := road.Junction().Turn(road, departure)
	if lane.AllowTurn(turn) {
		return lc.giveUp()
	}
	k := lane.OffsetInRoad()
	best := -1
	for j, other := range road.Lanes() {
		if other.AllowTurn(turn) && (best < 0 || abs(j-k) < abs(best-k)) {
			best = j
		}
	}
	if best < 0 {
		return lc.giveUp()
	}
	side := entity.RIGHT
	if best < k {
		side = entity.LEFT
	}
	lc.target = lane.NeighborLane(side)
	if lc.target == nil || v.DistanceToIntersection() < lc.params.MinDistance {
		return lc.giveUp()
	}
	lc.log.Debugf("lane change %v -> %v for %v", lane, lc.target, turn)
	return true
}

func (lc *LaneChanger) giveUp() bool {
	lc.state = LaneChangeEnded
	lc.succeeded = false
	return false
}

// Step 推进一步
// 返回：done-子状态机是否已结束
// 算法说明：
// 1. WaitingToChange：四个安全条件都满足时改变所在车道并进入Changing；超时则失败；否则跟驰一步
// 2. Changing：车身完全进入目标车道后释放原车道，成功结束；否则继续横向移动
func (lc *LaneChanger) Step() (done bool) {
	v := lc.vehicle
	switch lc.state {
	case WaitingToChange:
		if lc.safeToChange() {
			v.ChangeLaneOfRecord(lc.target)
			lc.state = Changing
			lc.pilot.SteerToLane(lc.target)
			return false
		}
		if v.Now()-lc.startTime > lc.params.TimeLimit {
			lc.log.Debugf("lane change to %v timed out", lc.target)
			lc.giveUp()
			return true
		}
		lc.pilot.FollowLane()
		return false
	case Changing:
		if v.FullyInLane() {
			v.ReleaseShadowLane()
			lc.state = LaneChangeEnded
			lc.succeeded = true
			return true
		}
		lc.pilot.SteerToLane(lc.target)
		return false
	case LaneChangeEnded:
		return true
	default:
		log.Panicf("LaneChanger: unknown state %v", lc.state)
		return true
	}
}

// safeToChange 检查最低速度、距路口距离、目标车道前后空档四个条件
func (lc *LaneChanger) safeToChange() bool {
	v := lc.vehicle
	p := lc.params
	speed := v.V()
	if speed < p.MinSpeed || v.DistanceToIntersection() < p.MinDistance {
		return false
	}
	if gap, _, ok := v.GapAhead(lc.target); ok {
		need := math.Max(p.LeadDistance, kinematic.StopDistance(speed, v.Spec().MaxDeceleration)) + lc.followingDistance
		if gap <= need {
			return false
		}
	}
	if gap, _, ok := v.GapBehind(lc.target); ok && gap <= v.Length()+p.RearMargin {
		return false
	}
	return true
}

// Interrupt 中止变道
// 说明：只能在WaitingToChange状态下中止，已经改变所在车道后无法撤销
func (lc *LaneChanger) Interrupt() {
	switch lc.state {
	case WaitingToChange:
		lc.giveUp()
	case Changing:
		log.Panicf("LaneChanger: vehicle %d cannot interrupt a committed lane change to %v", lc.vehicle.ID(), lc.target)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
