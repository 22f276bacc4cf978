package coordinator_test

import (
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/coordinator"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

type fixture struct {
	w     *world
	v     *fakeVehicle
	pilot *fakePilot
	c     *coordinator.Coordinator
}

func params(t *testing.T) config.Coordinator {
	t.Helper()
	rc, err := config.NewRuntimeConfig(config.Config{})
	require.NoError(t, err)
	return rc.All.Coordinator
}

// newFixture 位于中间车道、直行、距停止线60米、速度10m/s的车辆
func newFixture(t *testing.T, p config.Coordinator) *fixture {
	w := newWorld(mapv2.LaneTurn_LANE_TURN_STRAIGHT)
	v := &fakeVehicle{
		now:      0,
		v:        10,
		spec:     defaultSpec(),
		lane:     w.lanes[1],
		dest:     w.out,
		junction: w.junction,
		distance: 60,
	}
	pilot := &fakePilot{vehicle: v}
	return &fixture{
		w:     w,
		v:     v,
		pilot: pilot,
		c:     coordinator.New(v, pilot, fakeNavigator{road: w.out}, kinematic.Estimator{}, p),
	}
}

// step 推进时间并执行一步
func (f *fixture) step(t *testing.T, dt float64) {
	t.Helper()
	f.v.now += dt
	require.NoError(t, f.c.Step())
}

func (f *fixture) request(t *testing.T) *protocol.Request {
	t.Helper()
	reqs := sentOf[*protocol.Request](f.v)
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func confirmFor(req *protocol.Request, p protocol.Proposal) *protocol.Confirm {
	return &protocol.Confirm{
		Header:          req.Header,
		RequestID:       req.RequestID,
		ReservationID:   42,
		ArrivalLaneID:   p.ArrivalLaneID,
		DepartureLaneID: p.DepartureLaneID,
		ArrivalTime:     p.ArrivalTime,
		EarlyError:      0.05,
		LateError:       0.05,
		ArrivalVelocity: p.ArrivalVelocity,
		ACZDistance:     20,
		Profile:         []kinematic.DurationAccel{{Duration: 1, A: 1}},
	}
}

func TestPlanningSendsOneRequest(t *testing.T) {
	f := newFixture(t, params(t))
	assert.Equal(t, coordinator.Planning, f.c.State())
	f.step(t, 0)

	assert.Equal(t, coordinator.AwaitingResponse, f.c.State())
	reqs := sentOf[*protocol.Request](f.v)
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, int32(1), req.RequestID)
	assert.Equal(t, int32(7), req.VehicleID)
	assert.Equal(t, int32(3), req.IntersectionID)
	// 三个候选出口车道都可以在视界内到达
	require.Len(t, req.Proposals, 3)
	for _, p := range req.Proposals {
		assert.Equal(t, int32(1), p.ArrivalLaneID)
		assert.LessOrEqual(t, p.ArrivalVelocity, 8+kinematic.StrictEps)
		assert.GreaterOrEqual(t, p.ArrivalTime, 0.1+0.1-kinematic.StrictEps)
		assert.Equal(t, 8., p.MaxTurnVelocity)
	}
	// 停车计划已安装，车辆按其行驶
	require.NotNil(t, f.v.profile)
	assert.InDelta(t, 0, f.v.profile.FinalVelocity(10), 1e-9)
	assert.Equal(t, "FollowProfile", f.pilot.last())
}

func TestProposalsBoundedByMaxLanes(t *testing.T) {
	p := params(t)
	p.MaxLanesToTry = 2
	f := newFixture(t, p)
	f.step(t, 0)
	assert.Len(t, f.request(t).Proposals, 2)
}

func TestNoProposalWithinHorizon(t *testing.T) {
	p := params(t)
	p.MaxFutureReservationTime = 1
	f := newFixture(t, p)
	f.step(t, 0)

	assert.Empty(t, f.v.sent)
	assert.Equal(t, coordinator.Planning, f.c.State())
	assert.Equal(t, "FollowLane", f.pilot.last())
	// 冷却期间不会再次尝试
	f.step(t, p.SendingRetryDelay/2)
	assert.Empty(t, f.v.sent)
}

func TestFarFromIntersectionDrivesByDefault(t *testing.T) {
	f := newFixture(t, params(t))
	f.v.distance = 200
	f.step(t, 0)
	assert.Empty(t, f.v.sent)
	assert.Equal(t, coordinator.Planning, f.c.State())
	assert.Equal(t, []string{"FollowLane"}, f.pilot.calls)
}

func TestBlockedLaneDelaysRequest(t *testing.T) {
	f := newFixture(t, params(t))
	f.v.ahead = map[entity.ILane]gap{f.w.lanes[1]: {d: 20, v: 0}}
	f.step(t, 0)
	assert.Empty(t, f.v.sent)
	assert.Equal(t, coordinator.Planning, f.c.State())
}

func TestInfeasibleConfirmCancels(t *testing.T) {
	f := newFixture(t, params(t))
	f.step(t, 0)
	req := f.request(t)
	f.v.now = 0.1
	// 0.2秒内驶过60米不可能
	confirm := confirmFor(req, req.Proposals[0])
	confirm.ArrivalTime = 0.3
	f.v.inbox = append(f.v.inbox, confirm)
	before := len(f.v.sent)
	require.NoError(t, f.c.Step())

	cancels := sentOf[*protocol.Cancel](f.v)
	require.Len(t, cancels, 1)
	assert.Equal(t, int32(42), cancels[0].ReservationID)
	assert.Len(t, f.v.sent, before+1)
	assert.Equal(t, coordinator.Planning, f.c.State())
	assert.Nil(t, f.v.profile)
	assert.Nil(t, f.c.Reservation())
}

func TestFeasibleConfirmInstallsProfile(t *testing.T) {
	f := newFixture(t, params(t))
	f.step(t, 0)
	req := f.request(t)
	p := req.Proposals[1]
	// 回复到达时车辆已按停车计划行驶了0.1秒
	d, v := f.v.profile.Advance(0, 10, 0.1)
	f.v.now, f.v.v, f.v.distance = 0.1, v, 60-d
	f.v.inbox = append(f.v.inbox, confirmFor(req, p))
	require.NoError(t, f.c.Step())

	assert.Equal(t, coordinator.MaintainingReservation, f.c.State())
	require.NotNil(t, f.c.Reservation())
	assert.Equal(t, int32(42), f.c.Reservation().ReservationID)
	assert.Equal(t, p.DepartureLaneID, f.v.departure.ID())
	require.NotNil(t, f.v.profile)
	// 计划恰好在确认的时刻以确认的速度到达停止线
	dArr, vArr := f.v.profile.Advance(0.1, v, p.ArrivalTime)
	assert.InDelta(t, 60-d, dArr, kinematic.WeakEps)
	assert.InDelta(t, p.ArrivalVelocity, vArr, kinematic.WeakEps)
	// 之后接上路口内的加速计划
	assert.Equal(t, 1., f.v.profile.AccelAt(p.ArrivalTime+0.5))
	assert.Equal(t, "FollowProfile", f.pilot.last())
}

func (f *fixture) reserve(t *testing.T) protocol.Proposal {
	t.Helper()
	f.step(t, 0)
	req := f.request(t)
	p := req.Proposals[0]
	d, v := f.v.profile.Advance(0, 10, 0.1)
	f.v.now, f.v.v, f.v.distance = 0.1, v, 60-d
	f.v.inbox = append(f.v.inbox, confirmFor(req, p))
	require.NoError(t, f.c.Step())
	require.Equal(t, coordinator.MaintainingReservation, f.c.State())
	return p
}

func TestEnterTraverseAndClear(t *testing.T) {
	f := newFixture(t, params(t))
	p := f.reserve(t)

	f.v.entered, f.v.enterT, f.v.enterV = true, p.ArrivalTime+0.01, p.ArrivalVelocity
	f.v.now = p.ArrivalTime + 0.05
	require.NoError(t, f.c.Step())
	assert.Equal(t, coordinator.Traversing, f.c.State())
	assert.Equal(t, "Traverse", f.pilot.last())
	assert.Equal(t, p.ArrivalTime+0.01, f.v.profile.StartTime())

	f.v.exited = true
	f.step(t, 0.1)
	assert.Equal(t, coordinator.Clearing, f.c.State())
	require.Len(t, sentOf[*protocol.Done](f.v), 1)
	assert.Equal(t, int32(42), sentOf[*protocol.Done](f.v)[0].ReservationID)

	f.v.sinceExit = 10
	f.step(t, 0.1)
	assert.Equal(t, coordinator.Clearing, f.c.State())
	f.v.sinceExit = 21
	f.step(t, 0.1)
	assert.Equal(t, coordinator.Terminal, f.c.State())
	require.Len(t, sentOf[*protocol.Away](f.v), 1)
	assert.Nil(t, f.c.Reservation())

	calls := len(f.pilot.calls)
	f.step(t, 0.1)
	assert.Len(t, f.pilot.calls, calls)
}

func TestEnterOutsideWindowIsViolation(t *testing.T) {
	f := newFixture(t, params(t))
	p := f.reserve(t)
	f.v.entered, f.v.enterT, f.v.enterV = true, p.ArrivalTime+0.5, p.ArrivalVelocity
	f.v.now = p.ArrivalTime + 0.5
	err := f.c.Step()
	require.Error(t, err)
	assert.True(t, protocol.IsViolation(err))
	assert.False(t, kinematic.IsInfeasible(err))
}

func TestEnterWithWrongVelocityIsViolation(t *testing.T) {
	f := newFixture(t, params(t))
	p := f.reserve(t)
	f.v.entered, f.v.enterT, f.v.enterV = true, p.ArrivalTime, p.ArrivalVelocity+1
	f.v.now = p.ArrivalTime + 0.1
	assert.True(t, protocol.IsViolation(f.c.Step()))
}

func TestBlockedWhileMaintainingCancels(t *testing.T) {
	f := newFixture(t, params(t))
	f.reserve(t)
	f.v.ahead = map[entity.ILane]gap{f.v.lane: {d: 5}}
	f.step(t, 0.1)
	cancels := sentOf[*protocol.Cancel](f.v)
	require.Len(t, cancels, 1)
	assert.Equal(t, int32(42), cancels[0].ReservationID)
	assert.Equal(t, coordinator.Planning, f.c.State())
	assert.Nil(t, f.v.departure)
}

func TestRetryableRejectWaitsForNextAllowedCommunication(t *testing.T) {
	f := newFixture(t, params(t))
	f.step(t, 0)
	req := f.request(t)
	f.v.inbox = append(f.v.inbox, &protocol.Reject{
		Header:                   req.Header,
		RequestID:                req.RequestID,
		Reason:                   protocol.RejectNoClearPath,
		NextAllowedCommunication: 1,
	})
	f.step(t, 0.1)
	assert.Equal(t, coordinator.Planning, f.c.State())
	for f.v.now < 0.95 {
		f.step(t, 0.1)
		assert.Len(t, sentOf[*protocol.Request](f.v), 1)
	}
	f.step(t, 0.1)
	assert.Len(t, sentOf[*protocol.Request](f.v), 2)
	assert.Equal(t, int32(2), f.request(t).RequestID)
}

func TestFatalRejectIsViolation(t *testing.T) {
	for _, reason := range []protocol.RejectReason{
		protocol.RejectBeforeNextAllowedCommunication,
		protocol.RejectArrivalTimeTooLarge,
		protocol.RejectArrivalTimeTooLate,
	} {
		f := newFixture(t, params(t))
		f.step(t, 0)
		f.v.inbox = append(f.v.inbox, &protocol.Reject{RequestID: 1, Reason: reason})
		f.v.now = 0.1
		err := f.c.Step()
		assert.True(t, protocol.IsViolation(err), reason.String())
	}
}

func TestConfirmOutsideAwaitingIgnored(t *testing.T) {
	f := newFixture(t, params(t))
	f.v.distance = 200
	f.v.inbox = append(f.v.inbox, &protocol.Confirm{ReservationID: 1})
	f.step(t, 0)
	assert.Empty(t, f.v.sent)
	assert.Nil(t, f.c.Reservation())
}

func TestUnexpectedMessagePanics(t *testing.T) {
	f := newFixture(t, params(t))
	f.v.inbox = append(f.v.inbox, &protocol.Done{})
	assert.Panics(t, func() { _ = f.c.Step() })
}

func TestRequestTimeoutCancelsByRequestID(t *testing.T) {
	p := params(t)
	p.RequestTimeout = 0.5
	f := newFixture(t, p)
	f.step(t, 0)
	f.step(t, 0.3)
	assert.Equal(t, coordinator.AwaitingResponse, f.c.State())
	f.step(t, 0.3)
	cancels := sentOf[*protocol.Cancel](f.v)
	require.Len(t, cancels, 1)
	assert.Equal(t, int32(1), cancels[0].RequestID)
	assert.Equal(t, int32(-1), cancels[0].ReservationID)
	assert.Equal(t, coordinator.Planning, f.c.State())
}

func TestAwaitingFallsBackToFollowingWhenLeaderClose(t *testing.T) {
	f := newFixture(t, params(t))
	f.step(t, 0)
	f.v.ahead = map[entity.ILane]gap{f.v.lane: {d: 3}}
	f.step(t, 0.1)
	assert.Equal(t, coordinator.AwaitingResponse, f.c.State())
	assert.Nil(t, f.v.profile)
	assert.Equal(t, "FollowLane", f.pilot.last())
}

func TestStopWhenEstimationFails(t *testing.T) {
	f := newFixture(t, params(t))
	// 4米内无法从10m/s刹停
	f.v.distance = 4
	f.step(t, 0)
	assert.Contains(t, f.pilot.calls, "Stop")
	require.NotNil(t, f.v.profile)
	assert.Equal(t, -5., f.v.profile.AccelAt(0))
}

func TestLaneChangeBeforeReservation(t *testing.T) {
	f := newFixture(t, params(t))
	f.w.junction.turn = mapv2.LaneTurn_LANE_TURN_LEFT
	f.v.distance = 150
	f.step(t, 0)
	assert.Equal(t, coordinator.ConsideringLaneChange, f.c.State())
	assert.Equal(t, f.w.lanes[0], f.v.changedTo)
	assert.Equal(t, coordinator.Changing, f.c.LaneChanger().State())
	assert.Equal(t, "SteerToLane", f.pilot.last())

	f.step(t, 0.1)
	assert.Equal(t, coordinator.ConsideringLaneChange, f.c.State())
	f.v.fullyInLane = true
	f.step(t, 0.1)
	assert.Equal(t, 1, f.v.shadowRelease)
	assert.True(t, f.c.LaneChanger().Succeeded())
	assert.Equal(t, coordinator.Planning, f.c.State())
	assert.Equal(t, "FollowLane", f.pilot.last())
}

func TestLaneChangeAbandonedNearIntersection(t *testing.T) {
	p := params(t)
	f := newFixture(t, p)
	f.w.junction.turn = mapv2.LaneTurn_LANE_TURN_LEFT
	f.v.distance = 150
	// 目标车道前方有车，只能等待
	f.v.ahead = map[entity.ILane]gap{f.w.lanes[0]: {d: 1, v: 0}}
	f.step(t, 0)
	require.Equal(t, coordinator.ConsideringLaneChange, f.c.State())
	require.Equal(t, coordinator.WaitingToChange, f.c.LaneChanger().State())

	f.v.distance = p.LaneChange.MinDistance - 1
	f.step(t, 0.1)
	assert.Equal(t, coordinator.LaneChangeEnded, f.c.LaneChanger().State())
	assert.False(t, f.c.LaneChanger().Succeeded())
	assert.Nil(t, f.v.changedTo)
	assert.NotEqual(t, coordinator.ConsideringLaneChange, f.c.State())
}

func TestLaneChangeDisabled(t *testing.T) {
	p := params(t)
	p.LaneChange.Disable = true
	f := newFixture(t, p)
	f.w.junction.turn = mapv2.LaneTurn_LANE_TURN_LEFT
	f.v.distance = 150
	f.step(t, 0)
	assert.Nil(t, f.v.changedTo)
	assert.Equal(t, coordinator.Planning, f.c.State())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "MaintainingReservation", coordinator.MaintainingReservation.String())
	assert.Equal(t, "State(99)", coordinator.State(99).String())
	assert.Equal(t, "Changing", coordinator.Changing.String())
}
