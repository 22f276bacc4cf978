package coordinator_test

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
)

// 测试用的车道、道路、路口与车辆，只实现状态机用到的行为

type fakeLane struct {
	id         int32
	maxV       float64
	offset     int
	turns      []mapv2.LaneTurn
	road       *fakeRoad
	junction   *fakeJunction
	neighbors  [2]entity.ILane
	successors []entity.ILane
	length     float64
}

func (l *fakeLane) String() string               { return fmt.Sprintf("Lane(%d)", l.id) }
func (l *fakeLane) ID() int32                    { return l.id }
func (l *fakeLane) Length() float64              { return l.length }
func (l *fakeLane) Width() float64               { return 3.2 }
func (l *fakeLane) MaxV() float64                { return l.maxV }
func (l *fakeLane) Turn() mapv2.LaneTurn         { return mapv2.LaneTurn_LANE_TURN_STRAIGHT }
func (l *fakeLane) OffsetInRoad() int            { return l.offset }
func (l *fakeLane) InJunction() bool             { return l.junction != nil }
func (l *fakeLane) Successors() []entity.ILane   { return l.successors }
func (l *fakeLane) Predecessors() []entity.ILane { return nil }
func (l *fakeLane) NeighborLane(side int) entity.ILane {
	return l.neighbors[side]
}
func (l *fakeLane) AllowTurn(turn mapv2.LaneTurn) bool {
	for _, t := range l.turns {
		if t == turn {
			return true
		}
	}
	return false
}
func (l *fakeLane) ParentRoad() entity.IRoad {
	if l.road == nil {
		return nil
	}
	return l.road
}
func (l *fakeLane) ParentJunction() entity.IJunction {
	if l.junction == nil {
		return nil
	}
	return l.junction
}
func (l *fakeLane) ProjectFromLane(other entity.ILane, otherS float64) float64 { return otherS }
func (l *fakeLane) GetPositionByS(s float64) geometry.Point                     { return geometry.Point{X: s} }
func (l *fakeLane) GetOffsetPositionByS(s, offset float64) geometry.Point {
	return geometry.Point{X: s, Y: offset}
}
func (l *fakeLane) GetDirectionByS(s float64) float64 { return 0 }
func (l *fakeLane) Vehicles() *entity.VehicleList     { return nil }
func (l *fakeLane) AddVehicle(*entity.VehicleNode)    {}
func (l *fakeLane) RemoveVehicle(*entity.VehicleNode) {}

type fakeRoad struct {
	id       int32
	incoming bool
	lanes    []entity.ILane
	junction *fakeJunction
}

func (r *fakeRoad) String() string             { return fmt.Sprintf("Road(%d)", r.id) }
func (r *fakeRoad) ID() int32                  { return r.id }
func (r *fakeRoad) Arm() int                   { return 0 }
func (r *fakeRoad) IsIncoming() bool           { return r.incoming }
func (r *fakeRoad) Lanes() []entity.ILane      { return r.lanes }
func (r *fakeRoad) Junction() entity.IJunction { return r.junction }

type fakeJunction struct {
	turn  mapv2.LaneTurn
	paths map[int32][]entity.ILane // 按进口车道索引
}

func (j *fakeJunction) String() string                       { return "Junction(3)" }
func (j *fakeJunction) ID() int32                            { return 3 }
func (j *fakeJunction) Lanes() []entity.ILane                { return nil }
func (j *fakeJunction) Conflict(a, b entity.ILane) bool      { return true }
func (j *fakeJunction) Manager() entity.IIntersectionManager { return nil }
func (j *fakeJunction) Path(arrival, departure entity.ILane) entity.ILane {
	for _, p := range j.paths[arrival.ID()] {
		if p.Successors()[0] == departure {
			return p
		}
	}
	return nil
}
func (j *fakeJunction) Paths(arrival entity.ILane, departure entity.IRoad) []entity.ILane {
	return j.paths[arrival.ID()]
}
func (j *fakeJunction) Turn(arrival, departure entity.IRoad) mapv2.LaneTurn { return j.turn }

type gap struct {
	d, v float64
}

type fakeVehicle struct {
	now      float64
	v        float64
	spec     protocol.VehicleSpec
	lane     entity.ILane
	dest     entity.IRoad
	junction *fakeJunction
	distance float64

	ahead  map[entity.ILane]gap
	behind map[entity.ILane]gap

	entered        bool
	enterT, enterV float64
	exited         bool
	sinceExit      float64

	profile   *kinematic.AccelProfile
	departure entity.ILane

	inbox []protocol.Message
	sent  []protocol.Message

	changedTo     entity.ILane
	fullyInLane   bool
	shadowRelease int
}

func (v *fakeVehicle) ID() int32                  { return 7 }
func (v *fakeVehicle) String() string             { return "Vehicle(7)" }
func (v *fakeVehicle) Now() float64               { return v.now }
func (v *fakeVehicle) V() float64                 { return v.v }
func (v *fakeVehicle) Length() float64            { return v.spec.Length }
func (v *fakeVehicle) Spec() protocol.VehicleSpec { return v.spec }
func (v *fakeVehicle) Lane() entity.ILane         { return v.lane }
func (v *fakeVehicle) S() float64                 { return 0 }
func (v *fakeVehicle) Destination() entity.IRoad  { return v.dest }
func (v *fakeVehicle) XYZ() geometry.Point        { return geometry.Point{} }
func (v *fakeVehicle) DistanceToIntersection() float64 {
	if v.junction == nil {
		return math.Inf(1)
	}
	return v.distance
}
func (v *fakeVehicle) GapAhead(lane entity.ILane) (float64, float64, bool) {
	g, ok := v.ahead[lane]
	return g.d, g.v, ok
}
func (v *fakeVehicle) GapBehind(lane entity.ILane) (float64, float64, bool) {
	g, ok := v.behind[lane]
	return g.d, g.v, ok
}
func (v *fakeVehicle) ChangeLaneOfRecord(target entity.ILane) {
	v.changedTo = target
	v.lane = target
}
func (v *fakeVehicle) FullyInLane() bool  { return v.fullyInLane }
func (v *fakeVehicle) ReleaseShadowLane() { v.shadowRelease++ }
func (v *fakeVehicle) Intersection() entity.IJunction {
	if v.junction == nil {
		return nil
	}
	return v.junction
}
func (v *fakeVehicle) EnteredIntersection() (float64, float64, bool) {
	return v.enterT, v.enterV, v.entered
}
func (v *fakeVehicle) ExitedIntersection() bool                  { return v.exited }
func (v *fakeVehicle) DistanceSinceExit() float64                { return v.sinceExit }
func (v *fakeVehicle) AccelProfile() *kinematic.AccelProfile     { return v.profile }
func (v *fakeVehicle) SetAccelProfile(p *kinematic.AccelProfile) { v.profile = p }
func (v *fakeVehicle) ClearAccelProfile()                        { v.profile = nil }
func (v *fakeVehicle) SetDepartureLane(lane entity.ILane)        { v.departure = lane }
func (v *fakeVehicle) Send(msg protocol.Message)                 { v.sent = append(v.sent, msg) }
func (v *fakeVehicle) Receive() []protocol.Message {
	msgs := v.inbox
	v.inbox = nil
	return msgs
}

// sentOf 已发送的某类消息
func sentOf[T protocol.Message](v *fakeVehicle) []T {
	var res []T
	for _, m := range v.sent {
		if t, ok := m.(T); ok {
			res = append(res, t)
		}
	}
	return res
}

type fakePilot struct {
	vehicle *fakeVehicle
	calls   []string
}

func (p *fakePilot) FollowLane()    { p.calls = append(p.calls, "FollowLane") }
func (p *fakePilot) FollowProfile() { p.calls = append(p.calls, "FollowProfile") }
func (p *fakePilot) Traverse()      { p.calls = append(p.calls, "Traverse") }
func (p *fakePilot) Stop() {
	p.calls = append(p.calls, "Stop")
	p.vehicle.profile = kinematic.StopProfile(p.vehicle.now, p.vehicle.v, p.vehicle.spec.MaxDeceleration)
}
func (p *fakePilot) SteerToLane(target entity.ILane) {
	p.calls = append(p.calls, "SteerToLane")
}
func (p *fakePilot) last() string {
	if len(p.calls) == 0 {
		return ""
	}
	return p.calls[len(p.calls)-1]
}

type fakeNavigator struct {
	road entity.IRoad
}

func (n fakeNavigator) NextRoad(entity.ILane, entity.IRoad) entity.IRoad { return n.road }

// world 三车道进口道，每条进口车道可驶向出口道的三条车道
type world struct {
	junction *fakeJunction
	in       *fakeRoad
	out      *fakeRoad
	lanes    []*fakeLane // 进口车道
}

func newWorld(turn mapv2.LaneTurn) *world {
	w := &world{
		junction: &fakeJunction{turn: turn, paths: map[int32][]entity.ILane{}},
	}
	w.in = &fakeRoad{id: 100, incoming: true, junction: w.junction}
	w.out = &fakeRoad{id: 101, junction: w.junction}
	permissions := [][]mapv2.LaneTurn{
		{mapv2.LaneTurn_LANE_TURN_LEFT, mapv2.LaneTurn_LANE_TURN_STRAIGHT},
		{mapv2.LaneTurn_LANE_TURN_STRAIGHT},
		{mapv2.LaneTurn_LANE_TURN_STRAIGHT, mapv2.LaneTurn_LANE_TURN_RIGHT},
	}
	var outs []*fakeLane
	for k := 0; k < 3; k++ {
		l := &fakeLane{id: int32(k), maxV: 50 / 3.6, offset: k, turns: permissions[k], road: w.in, length: 300}
		w.lanes = append(w.lanes, l)
		w.in.lanes = append(w.in.lanes, l)
		o := &fakeLane{id: int32(10 + k), maxV: 50 / 3.6, offset: k, road: w.out, length: 300}
		outs = append(outs, o)
		w.out.lanes = append(w.out.lanes, o)
	}
	for k := 0; k < 3; k++ {
		if k > 0 {
			w.lanes[k].neighbors[entity.LEFT] = w.lanes[k-1]
		}
		if k < 2 {
			w.lanes[k].neighbors[entity.RIGHT] = w.lanes[k+1]
		}
		for j, o := range outs {
			path := &fakeLane{
				id: int32(100 + 10*k + j), maxV: 8, junction: w.junction, length: 30,
				successors: []entity.ILane{o},
			}
			w.junction.paths[int32(k)] = append(w.junction.paths[int32(k)], path)
		}
	}
	return w
}

func defaultSpec() protocol.VehicleSpec {
	return protocol.VehicleSpec{
		MaxAcceleration: 3,
		MaxDeceleration: -5,
		MaxVelocity:     50 / 3.6,
		Length:          5,
		Width:           2,
	}
}
