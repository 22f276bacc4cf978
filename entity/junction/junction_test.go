package junction_test

import (
	"sync"
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/aim-sim-oss/clock"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/junction"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/road"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

// fakeMailbox 只实现回复投递的车辆管理器
type fakeMailbox struct {
	entity.IVehicleManager

	mtx sync.Mutex
	got map[int32][]protocol.Message
}

func (f *fakeMailbox) Deliver(vehicleID int32, msg protocol.Message) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.got[vehicleID] = append(f.got[vehicleID], msg)
}

// take 取出并清空某辆车收到的回复
func (f *fakeMailbox) take(vehicleID int32) []protocol.Message {
	msgs := f.got[vehicleID]
	delete(f.got, vehicleID)
	return msgs
}

type fakeContext struct {
	clock    *clock.Clock
	rc       *config.RuntimeConfig
	mailbox  *fakeMailbox
	recorder *output.Recorder
}

func (c *fakeContext) Clock() *clock.Clock                    { return c.clock }
func (c *fakeContext) RuntimeConfig() *config.RuntimeConfig   { return c.rc }
func (c *fakeContext) VehicleManager() entity.IVehicleManager { return c.mailbox }
func (c *fakeContext) Recorder() entity.IRecorder             { return c.recorder }

type testWorld struct {
	ctx       *fakeContext
	lanes     *lane.LaneManager
	roads     *road.RoadManager
	junctions *junction.JunctionManager
	j         entity.IJunction
}

func newTestWorld(t *testing.T, mutate func(c *config.Config)) *testWorld {
	t.Helper()
	c := config.Config{}
	if mutate != nil {
		mutate(&c)
	}
	rc, err := config.NewRuntimeConfig(c)
	require.NoError(t, err)
	ctx := &fakeContext{
		clock:    clock.New(rc.C.Step),
		rc:       rc,
		mailbox:  &fakeMailbox{got: make(map[int32][]protocol.Message)},
		recorder: output.New(rc.All.Output),
	}
	m := input.NewCrossroads(rc.All.World)
	w := &testWorld{
		ctx:       ctx,
		lanes:     lane.NewManager(),
		roads:     road.NewManager(),
		junctions: junction.NewManager(ctx),
	}
	w.lanes.Init(m.Lanes)
	w.roads.Init(m.Roads, w.lanes)
	w.junctions.Init(m.Junctions, w.lanes, w.roads)
	w.roads.InitAfterJunction(w.junctions)
	w.j = w.junctions.Get(input.JunctionIDBase)
	return w
}

// in 第arm个方向进口道的第k条车道
func (w *testWorld) in(arm, k int) entity.ILane {
	return w.roads.GetByArm(arm, true).Lanes()[k]
}

// out 第arm个方向出口道的第k条车道
func (w *testWorld) out(arm, k int) entity.ILane {
	return w.roads.GetByArm(arm, false).Lanes()[k]
}

func (w *testWorld) path(fromArm, fromK, toArm, toK int) entity.ILane {
	return w.j.Path(w.in(fromArm, fromK), w.out(toArm, toK))
}

func TestJunctionTopology(t *testing.T) {
	w := newTestWorld(t, nil)
	assert.Len(t, w.j.Lanes(), 4*3*3*3)
	for _, l := range w.j.Lanes() {
		assert.Equal(t, w.j, l.ParentJunction())
		assert.True(t, l.InJunction())
	}

	in := w.in(0, 1)
	assert.Equal(t, w.j, in.ParentRoad().Junction())
	assert.Equal(t, 1, in.OffsetInRoad())
	assert.Equal(t, w.in(0, 0), in.NeighborLane(entity.LEFT))
	assert.Equal(t, w.in(0, 2), in.NeighborLane(entity.RIGHT))

	// 与进口车道序号越接近越靠前
	paths := w.j.Paths(in, w.roads.GetByArm(2, false))
	require.Len(t, paths, 3)
	assert.Equal(t, w.out(2, 1), paths[0].Successors()[0])
	assert.Equal(t, w.out(2, 0), paths[1].Successors()[0])
	assert.Equal(t, w.out(2, 2), paths[2].Successors()[0])
	assert.Equal(t, paths[0], w.path(0, 1, 2, 1))
	assert.Nil(t, w.j.Path(in, w.out(0, 0)))

	inRoad := w.roads.GetByArm(0, true)
	assert.Equal(t, mapv2.LaneTurn_LANE_TURN_RIGHT, w.j.Turn(inRoad, w.roads.GetByArm(1, false)))
	assert.Equal(t, mapv2.LaneTurn_LANE_TURN_STRAIGHT, w.j.Turn(inRoad, w.roads.GetByArm(2, false)))
	assert.Equal(t, mapv2.LaneTurn_LANE_TURN_LEFT, w.j.Turn(inRoad, w.roads.GetByArm(3, false)))
	assert.Equal(t, mapv2.LaneTurn_LANE_TURN_STRAIGHT, w.path(0, 1, 2, 1).Turn())
}

func TestJunctionConflicts(t *testing.T) {
	w := newTestWorld(t, nil)
	straight := w.path(0, 1, 2, 1)
	assert.True(t, w.j.Conflict(straight, straight))
	// 交叉的直行
	assert.True(t, w.j.Conflict(straight, w.path(1, 1, 3, 1)))
	// 共用进口车道或出口车道
	assert.True(t, w.j.Conflict(straight, w.path(0, 1, 2, 0)))
	assert.True(t, w.j.Conflict(straight, w.path(0, 2, 2, 1)))
	// 对向直行、对角的右转互不冲突
	assert.False(t, w.j.Conflict(straight, w.path(2, 1, 0, 1)))
	assert.False(t, w.j.Conflict(w.path(0, 2, 1, 2), w.path(2, 2, 3, 2)))
	assert.Equal(t, w.j.Conflict(w.path(1, 1, 3, 1), straight), w.j.Conflict(straight, w.path(1, 1, 3, 1)))
}

func spec() protocol.VehicleSpec {
	return protocol.VehicleSpec{MaxAcceleration: 3, MaxDeceleration: -5, MaxVelocity: 50 / 3.6, Length: 5, Width: 2}
}

func (w *testWorld) request(vehicle, requestID int32, from, to entity.ILane, tArr float64) *protocol.Request {
	return &protocol.Request{
		Header:    protocol.Header{VehicleID: vehicle, IntersectionID: w.j.ID()},
		RequestID: requestID,
		SentAt:    w.ctx.clock.T,
		Spec:      spec(),
		Proposals: []protocol.Proposal{{
			ArrivalLaneID:   from.ID(),
			DepartureLaneID: to.ID(),
			ArrivalTime:     tArr,
			ArrivalVelocity: 10,
			MaxTurnVelocity: 50 / 3.6,
		}},
	}
}

// step 推进时钟并处理消息
func (w *testWorld) step() {
	w.ctx.clock.Step()
	w.junctions.Prepare()
}

func (w *testWorld) reply(t *testing.T, vehicle int32) protocol.Message {
	t.Helper()
	msgs := w.ctx.mailbox.take(vehicle)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestIntersectionConfirmsAndRejectsConflicts(t *testing.T) {
	w := newTestWorld(t, nil)
	m := w.j.Manager()
	assert.Equal(t, w.j.ID(), m.ID())

	m.Post(w.request(1, 1, w.in(0, 1), w.out(2, 1), 2))
	m.Post(w.request(2, 1, w.in(1, 1), w.out(3, 1), 2))
	m.Post(w.request(3, 1, w.in(2, 1), w.out(0, 1), 2))
	w.step()

	// 车辆1先处理，交叉的车辆2被拒绝，对向的车辆3被批准
	confirm, ok := w.reply(t, 1).(*protocol.Confirm)
	require.True(t, ok)
	assert.Equal(t, int32(1), confirm.RequestID)
	assert.Equal(t, 2., confirm.ArrivalTime)
	assert.Equal(t, 10., confirm.ArrivalVelocity)
	assert.Equal(t, 20., confirm.ACZDistance)
	require.Len(t, confirm.Profile, 1)
	assert.Equal(t, 3., confirm.Profile[0].A)
	assert.InDelta(t, (50/3.6-10)/3, confirm.Profile[0].Duration, kinematic.StrictEps)

	reject, ok := w.reply(t, 2).(*protocol.Reject)
	require.True(t, ok)
	assert.Equal(t, protocol.RejectNoClearPath, reject.Reason)
	assert.InDelta(t, w.ctx.clock.T+0.5, reject.NextAllowedCommunication, 1e-9)

	_, ok = w.reply(t, 3).(*protocol.Confirm)
	assert.True(t, ok)
	assert.Equal(t, 2, m.Reservations())

	// 冷却期内再次请求属于协议违规
	w.step()
	m.Post(w.request(2, 2, w.in(1, 1), w.out(3, 1), 8))
	w.step()
	reject = w.reply(t, 2).(*protocol.Reject)
	assert.Equal(t, protocol.RejectBeforeNextAllowedCommunication, reject.Reason)
	assert.False(t, reject.Reason.Retryable())
}

func TestIntersectionTimeChecks(t *testing.T) {
	w := newTestWorld(t, nil)
	m := w.j.Manager()
	m.Post(w.request(1, 1, w.in(0, 1), w.out(2, 1), 30))
	m.Post(w.request(2, 1, w.in(1, 1), w.out(3, 1), 0.05))
	w.step()
	assert.Equal(t, protocol.RejectArrivalTimeTooLarge, w.reply(t, 1).(*protocol.Reject).Reason)
	assert.Equal(t, protocol.RejectArrivalTimeTooLate, w.reply(t, 2).(*protocol.Reject).Reason)
	assert.Zero(t, m.Reservations())
}

func TestIntersectionSessionRules(t *testing.T) {
	w := newTestWorld(t, nil)
	m := w.j.Manager()
	m.Post(w.request(1, 5, w.in(0, 1), w.out(2, 1), 3))
	w.step()
	confirm := w.reply(t, 1).(*protocol.Confirm)

	// 过期的请求被丢弃
	m.Post(w.request(1, 4, w.in(0, 1), w.out(2, 1), 5))
	w.step()
	assert.Empty(t, w.ctx.mailbox.take(1))

	// 已有预约时的新请求
	m.Post(w.request(1, 6, w.in(0, 1), w.out(2, 1), 5))
	w.step()
	reject := w.reply(t, 1).(*protocol.Reject)
	assert.Equal(t, protocol.RejectConfirmedAnotherRequest, reject.Reason)
	assert.True(t, reject.Reason.Retryable())

	// 按请求ID取消后可以重新预约
	m.Post(&protocol.Cancel{Header: confirm.Header, RequestID: 5, ReservationID: -1})
	w.step()
	assert.Zero(t, m.Reservations())
	for w.ctx.clock.T < reject.NextAllowedCommunication {
		w.step()
	}
	m.Post(w.request(1, 7, w.in(0, 1), w.out(2, 1), w.ctx.clock.T+3))
	w.step()
	_, ok := w.reply(t, 1).(*protocol.Confirm)
	assert.True(t, ok)
}

func TestIntersectionDoneReleasesPath(t *testing.T) {
	w := newTestWorld(t, nil)
	m := w.j.Manager()
	m.Post(w.request(1, 1, w.in(0, 1), w.out(2, 1), 2))
	w.step()
	confirm := w.reply(t, 1).(*protocol.Confirm)

	m.Post(w.request(2, 1, w.in(1, 1), w.out(3, 1), 2.5))
	w.step()
	assert.Equal(t, protocol.RejectNoClearPath, w.reply(t, 2).(*protocol.Reject).Reason)

	m.Post(&protocol.Done{Header: confirm.Header, ReservationID: confirm.ReservationID})
	for i := 0; i < 5; i++ {
		w.step()
	}
	m.Post(w.request(2, 2, w.in(1, 1), w.out(3, 1), 2.5))
	w.step()
	_, ok := w.reply(t, 2).(*protocol.Confirm)
	assert.True(t, ok)
	assert.Equal(t, 2, m.Reservations())

	m.Post(&protocol.Away{Header: confirm.Header, ReservationID: confirm.ReservationID})
	w.step()
	assert.Equal(t, 1, m.Reservations())
	assert.Equal(t, 1, w.junctions.Reservations())
}

func TestIntersectionDepartureCapacity(t *testing.T) {
	w := newTestWorld(t, func(c *config.Config) { c.Intersection.ACZDistance = 9 })
	m := w.j.Manager()
	m.Post(w.request(1, 1, w.in(0, 1), w.out(2, 1), 2))
	w.step()
	confirm := w.reply(t, 1).(*protocol.Confirm)
	m.Post(&protocol.Done{Header: confirm.Header, ReservationID: confirm.ReservationID})
	w.step()

	// 路口内已空，但出口车道管控区内已有一辆车
	m.Post(w.request(2, 1, w.in(0, 1), w.out(2, 1), 8))
	w.step()
	assert.Equal(t, protocol.RejectNoClearPath, w.reply(t, 2).(*protocol.Reject).Reason)
	// 驶向其他出口车道不受影响
	m.Post(w.request(3, 1, w.in(0, 0), w.out(2, 0), 8))
	w.step()
	_, ok := w.reply(t, 3).(*protocol.Confirm)
	assert.True(t, ok)
}
