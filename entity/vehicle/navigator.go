package vehicle

import "github.com/tsinghua-fib-lab/aim-sim-oss/entity"

// Navigator 单路口导航
// 功能：车辆所在进口道通向出口道所属的路口时，路口之后的道路就是出口道
type Navigator struct{}

// NextRoad 车辆驶过lane所在道路前方路口后进入的道路，路口之后没有规划时为nil
func (Navigator) NextRoad(lane entity.ILane, destination entity.IRoad) entity.IRoad {
	road := lane.ParentRoad()
	if road == nil || !road.IsIncoming() || destination == nil {
		return nil
	}
	if road.Junction() != destination.Junction() {
		return nil
	}
	return destination
}
