package coordinator_test

import (
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/coordinator"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

// newLaneChanger 位于中间车道、需要左转的车辆
func newLaneChanger(t *testing.T) (*world, *fakeVehicle, *fakePilot, *coordinator.LaneChanger, config.LaneChange) {
	t.Helper()
	p := params(t)
	w := newWorld(mapv2.LaneTurn_LANE_TURN_LEFT)
	v := &fakeVehicle{
		v:        10,
		spec:     defaultSpec(),
		lane:     w.lanes[1],
		dest:     w.out,
		junction: w.junction,
		distance: 150,
	}
	pilot := &fakePilot{vehicle: v}
	lc := coordinator.NewLaneChanger(v, pilot, fakeNavigator{road: w.out}, p.LaneChange, p.FollowingDistance)
	return w, v, pilot, lc, p.LaneChange
}

func TestLaneChangeTargetsAllowedSide(t *testing.T) {
	w, _, _, lc, _ := newLaneChanger(t)
	assert.Equal(t, coordinator.LaneChangeEnded, lc.State())
	require.True(t, lc.Reset())
	assert.Equal(t, coordinator.WaitingToChange, lc.State())
	assert.Equal(t, w.lanes[0], lc.Target())
}

func TestLaneChangeNotWarranted(t *testing.T) {
	// 当前车道已允许转向
	w, v, _, lc, _ := newLaneChanger(t)
	v.lane = w.lanes[0]
	assert.False(t, lc.Reset())
	assert.Equal(t, coordinator.LaneChangeEnded, lc.State())
	assert.False(t, lc.Succeeded())

	// 距路口过近
	_, v, _, lc, p := newLaneChanger(t)
	v.distance = p.MinDistance - 1
	assert.False(t, lc.Reset())

	// 朝允许车道一侧没有相邻车道
	w, v, _, lc, _ = newLaneChanger(t)
	w.lanes[1].neighbors[entity.LEFT] = nil
	assert.False(t, lc.Reset())

	// 路口内不变道
	w, v, _, lc, _ = newLaneChanger(t)
	v.lane = w.junction.paths[1][0]
	assert.False(t, lc.Reset())
}

func TestLaneChangeSucceeds(t *testing.T) {
	w, v, pilot, lc, _ := newLaneChanger(t)
	require.True(t, lc.Reset())

	assert.False(t, lc.Step())
	assert.Equal(t, coordinator.Changing, lc.State())
	assert.Equal(t, w.lanes[0], v.changedTo)
	assert.Equal(t, "SteerToLane", pilot.last())

	v.now += 0.1
	assert.False(t, lc.Step())
	assert.Equal(t, 0, v.shadowRelease)

	v.fullyInLane = true
	v.now += 0.1
	assert.True(t, lc.Step())
	assert.Equal(t, 1, v.shadowRelease)
	assert.Equal(t, coordinator.LaneChangeEnded, lc.State())
	assert.True(t, lc.Succeeded())
}

func TestLaneChangeSafetyGates(t *testing.T) {
	cases := map[string]func(w *world, v *fakeVehicle, p config.LaneChange){
		"slow": func(w *world, v *fakeVehicle, p config.LaneChange) { v.v = p.MinSpeed / 2 },
		"near": func(w *world, v *fakeVehicle, p config.LaneChange) { v.distance = p.MinDistance - 1 },
		"ahead": func(w *world, v *fakeVehicle, p config.LaneChange) {
			// 10m/s时制动距离为10m，再加5m跟车距离
			v.ahead = map[entity.ILane]gap{w.lanes[0]: {d: 14, v: 10}}
		},
		"behind": func(w *world, v *fakeVehicle, p config.LaneChange) {
			v.behind = map[entity.ILane]gap{w.lanes[0]: {d: v.spec.Length + p.RearMargin, v: 10}}
		},
	}
	for name, block := range cases {
		w, v, pilot, lc, p := newLaneChanger(t)
		require.True(t, lc.Reset(), name)
		block(w, v, p)
		assert.False(t, lc.Step(), name)
		assert.Equal(t, coordinator.WaitingToChange, lc.State(), name)
		assert.Nil(t, v.changedTo, name)
		assert.Equal(t, "FollowLane", pilot.last(), name)
	}

	// 空档足够时变道
	w, v, _, lc, _ := newLaneChanger(t)
	require.True(t, lc.Reset())
	v.ahead = map[entity.ILane]gap{w.lanes[0]: {d: 16, v: 10}}
	v.behind = map[entity.ILane]gap{w.lanes[0]: {d: 9, v: 10}}
	lc.Step()
	assert.Equal(t, coordinator.Changing, lc.State())
}

func TestLaneChangeTimesOut(t *testing.T) {
	w, v, _, lc, p := newLaneChanger(t)
	require.True(t, lc.Reset())
	v.ahead = map[entity.ILane]gap{w.lanes[0]: {d: 1, v: 0}}
	v.now = p.TimeLimit / 2
	assert.False(t, lc.Step())
	v.now = p.TimeLimit + 0.1
	assert.True(t, lc.Step())
	assert.Equal(t, coordinator.LaneChangeEnded, lc.State())
	assert.False(t, lc.Succeeded())
}

func TestLaneChangeInterrupt(t *testing.T) {
	w, v, _, lc, _ := newLaneChanger(t)
	require.True(t, lc.Reset())
	v.ahead = map[entity.ILane]gap{w.lanes[0]: {d: 1, v: 0}}
	lc.Step()
	lc.Interrupt()
	assert.Equal(t, coordinator.LaneChangeEnded, lc.State())
	assert.False(t, lc.Succeeded())

	// 已改变所在车道后不能中止
	_, _, _, lc, _ = newLaneChanger(t)
	require.True(t, lc.Reset())
	lc.Step()
	require.Equal(t, coordinator.Changing, lc.State())
	assert.Panics(t, lc.Interrupt)
}

func TestLaneChangeStateStrings(t *testing.T) {
	assert.Equal(t, "WaitingToChange", coordinator.WaitingToChange.String())
	assert.Equal(t, "Changing", coordinator.Changing.String())
	assert.Equal(t, "LaneChangeEnded", coordinator.LaneChangeEnded.String())
}
