package input

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

// ID编码规则：车道从0开始，道路从2_0000_0000开始，路口从3_0000_0000开始
const (
	RoadIDBase     int32 = 2_0000_0000
	JunctionIDBase int32 = 3_0000_0000

	// 路口内车道折线的采样段数
	pathSegments = 16
)

// Lane 车道数据
type Lane struct {
	ID           int32
	Turn         mapv2.LaneTurn   // 路口内车道的转向，道路车道为STRAIGHT
	Permissions  []mapv2.LaneTurn // 进口道车道允许的转向
	MaxSpeed     float64
	Width        float64
	Line         []geometry.Point // 中心线
	Predecessors []int32
	Successors   []int32
	LeftLaneIDs  []int32 // 左侧车道（由近到远）
	RightLaneIDs []int32 // 右侧车道（由近到远）
	ParentID     int32   // 所在道路或路口
}

// Road 道路数据
type Road struct {
	ID         int32
	Arm        int     // 所在方向的序号
	Incoming   bool    // 是否为驶向路口的进口道
	LaneIDs    []int32 // 由左到右
	JunctionID int32
}

// Junction 路口数据
type Junction struct {
	ID      int32
	LaneIDs []int32
	RoadIDs []int32
}

// Map 路网数据
type Map struct {
	Lanes     []*Lane
	Roads     []*Road
	Junctions []*Junction
}

// RoadID 第arm个方向的进口道或出口道ID
func RoadID(arm int, incoming bool) int32 {
	id := RoadIDBase + int32(arm)*2
	if incoming {
		return id
	}
	return id + 1
}

// ArmTurn 从第from个方向驶入、从第to个方向驶出的转向
// 说明：按驶入方向与驶出方向的夹角划分，掉头返回LANE_TURN_AROUND
func ArmTurn(arms, from, to int) mapv2.LaneTurn {
	if from == to {
		return mapv2.LaneTurn_LANE_TURN_AROUND
	}
	in := armAngle(arms, from) + math.Pi
	out := armAngle(arms, to)
	delta := math.Remainder(out-in, 2*math.Pi)
	switch {
	case math.Abs(delta) < math.Pi/4:
		return mapv2.LaneTurn_LANE_TURN_STRAIGHT
	case delta > 0:
		return mapv2.LaneTurn_LANE_TURN_LEFT
	default:
		return mapv2.LaneTurn_LANE_TURN_RIGHT
	}
}

// LanePermissions 第offset条车道（0为最左侧）允许的转向
// 说明：最左侧车道左转+直行，最右侧车道右转+直行，中间车道直行，单车道允许所有转向
func LanePermissions(offset, lanes int) []mapv2.LaneTurn {
	straight := mapv2.LaneTurn_LANE_TURN_STRAIGHT
	if lanes == 1 {
		return []mapv2.LaneTurn{mapv2.LaneTurn_LANE_TURN_LEFT, straight, mapv2.LaneTurn_LANE_TURN_RIGHT}
	}
	switch offset {
	case 0:
		return []mapv2.LaneTurn{mapv2.LaneTurn_LANE_TURN_LEFT, straight}
	case lanes - 1:
		return []mapv2.LaneTurn{straight, mapv2.LaneTurn_LANE_TURN_RIGHT}
	default:
		return []mapv2.LaneTurn{straight}
	}
}

func armAngle(arms, arm int) float64 {
	return 2 * math.Pi * float64(arm) / float64(arms)
}

// NewCrossroads 生成单路口路网
// 功能：以原点为路口中心，每个方向生成一条进口道与一条出口道，并用路口内车道连接所有非掉头方向的(进口车道, 出口车道)对
// 参数：w-路网配置
// 返回：路网数据
// 算法说明：
// 1. 第i个方向的单位向量u=(cosθ, sinθ)，沿u行驶时的右侧法向r=(sinθ, -cosθ)
// 2. 出口道沿u行驶，第k条车道中心线在r方向偏移(k+0.5)*laneWidth
// 3. 进口道沿-u行驶，第k条车道中心线在-r方向偏移(k+0.5)*laneWidth，终点为停止线
// 4. 路口内车道从进口车道终点连接到出口车道起点，几何为以两车道中心线交点为控制点的二次贝塞尔曲线，平行时为直线段
func NewCrossroads(w config.World) *Map {
	m := &Map{}
	n := w.LanesPerRoad
	stopLine := float64(n)*w.LaneWidth + 2
	junction := &Junction{ID: JunctionIDBase}
	m.Junctions = append(m.Junctions, junction)

	nextLaneID := int32(0)
	lanes := make(map[int32]*Lane)
	newLane := func(l *Lane) *Lane {
		l.ID = nextLaneID
		nextLaneID++
		lanes[l.ID] = l
		m.Lanes = append(m.Lanes, l)
		return l
	}
	incoming := make([][]*Lane, w.Arms)
	outgoing := make([][]*Lane, w.Arms)

	for arm := 0; arm < w.Arms; arm++ {
		theta := armAngle(w.Arms, arm)
		u := geometry.Point{X: math.Cos(theta), Y: math.Sin(theta)}
		r := geometry.Point{X: math.Sin(theta), Y: -math.Cos(theta)}
		at := func(along, lateral float64) geometry.Point {
			return geometry.Point{X: u.X*along + r.X*lateral, Y: u.Y*along + r.Y*lateral}
		}
		for _, isIncoming := range []bool{true, false} {
			road := &Road{
				ID:         RoadID(arm, isIncoming),
				Arm:        arm,
				Incoming:   isIncoming,
				JunctionID: junction.ID,
			}
			roadLanes := make([]*Lane, n)
			for k := 0; k < n; k++ {
				lateral := (float64(k) + 0.5) * w.LaneWidth
				l := &Lane{
					Turn:     mapv2.LaneTurn_LANE_TURN_STRAIGHT,
					MaxSpeed: w.MaxSpeed,
					Width:    w.LaneWidth,
					ParentID: road.ID,
				}
				if isIncoming {
					l.Line = []geometry.Point{at(stopLine+w.RoadLength, -lateral), at(stopLine, -lateral)}
					l.Permissions = LanePermissions(k, n)
				} else {
					l.Line = []geometry.Point{at(stopLine, lateral), at(stopLine+w.RoadLength, lateral)}
				}
				roadLanes[k] = newLane(l)
				road.LaneIDs = append(road.LaneIDs, l.ID)
			}
			for k, l := range roadLanes {
				for j := k - 1; j >= 0; j-- {
					l.LeftLaneIDs = append(l.LeftLaneIDs, roadLanes[j].ID)
				}
				for j := k + 1; j < n; j++ {
					l.RightLaneIDs = append(l.RightLaneIDs, roadLanes[j].ID)
				}
			}
			if isIncoming {
				incoming[arm] = roadLanes
			} else {
				outgoing[arm] = roadLanes
			}
			m.Roads = append(m.Roads, road)
			junction.RoadIDs = append(junction.RoadIDs, road.ID)
		}
	}

	for from := 0; from < w.Arms; from++ {
		for to := 0; to < w.Arms; to++ {
			turn := ArmTurn(w.Arms, from, to)
			if turn == mapv2.LaneTurn_LANE_TURN_AROUND {
				continue
			}
			maxV := w.StraightMaxV
			switch turn {
			case mapv2.LaneTurn_LANE_TURN_LEFT:
				maxV = w.LeftTurnMaxV
			case mapv2.LaneTurn_LANE_TURN_RIGHT:
				maxV = w.RightTurnMaxV
			}
			for _, in := range incoming[from] {
				for _, out := range outgoing[to] {
					path := newLane(&Lane{
						Turn:         turn,
						MaxSpeed:     maxV,
						Width:        w.LaneWidth,
						Line:         connectLines(in.Line, out.Line),
						Predecessors: []int32{in.ID},
						Successors:   []int32{out.ID},
						ParentID:     junction.ID,
					})
					in.Successors = append(in.Successors, path.ID)
					out.Predecessors = append(out.Predecessors, path.ID)
					junction.LaneIDs = append(junction.LaneIDs, path.ID)
				}
			}
		}
	}
	return m
}

// connectLines 用二次贝塞尔曲线连接in的终点与out的起点
func connectLines(in, out []geometry.Point) []geometry.Point {
	p0, p2 := in[len(in)-1], out[0]
	d0 := direction(in[len(in)-2], p0)
	d2 := direction(p2, out[1])
	cross := d0.X*d2.Y - d0.Y*d2.X
	if math.Abs(cross) < 1e-6 {
		return []geometry.Point{p0, p2}
	}
	// p0 + a*d0 = p2 - b*d2
	dx, dy := p2.X-p0.X, p2.Y-p0.Y
	a := (dx*d2.Y - dy*d2.X) / cross
	p1 := geometry.Point{X: p0.X + a*d0.X, Y: p0.Y + a*d0.Y}
	line := make([]geometry.Point, 0, pathSegments+1)
	for i := 0; i <= pathSegments; i++ {
		t := float64(i) / pathSegments
		line = append(line, geometry.Point{
			X: (1-t)*(1-t)*p0.X + 2*(1-t)*t*p1.X + t*t*p2.X,
			Y: (1-t)*(1-t)*p0.Y + 2*(1-t)*t*p1.Y + t*t*p2.Y,
		})
	}
	return line
}

func direction(from, to geometry.Point) geometry.Point {
	dx, dy := to.X-from.X, to.Y-from.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		panic(fmt.Sprintf("degenerate segment at %v", from))
	}
	return geometry.Point{X: dx / l, Y: dy / l}
}
