package config

import (
	"fmt"
	"math"
)

// RuntimeConfig 运行时配置
// 功能：在YAML配置的基础上补齐默认值，供各模块只读使用
type RuntimeConfig struct {
	All Config  // 全部配置（已补齐默认值）
	C   Control // 全局控制配置
}

func setDefault[T comparable](v *T, d T) {
	var zero T
	if *v == zero {
		*v = d
	}
}

// NewRuntimeConfig 根据配置初始化全局变量
// 功能：创建运行时配置对象，补齐所有零值参数并检查参数之间的约束
// 参数：config-原始配置对象
// 返回：运行时配置指针；参数不合法时返回错误
func NewRuntimeConfig(config Config) (*RuntimeConfig, error) {
	setDefault(&config.Control.Step.Interval, 0.1)
	setDefault(&config.Control.Step.Total, 3000)

	w := &config.World
	setDefault(&w.Arms, 4)
	setDefault(&w.LanesPerRoad, 3)
	setDefault(&w.LaneWidth, 3.2)
	setDefault(&w.RoadLength, 300)
	setDefault(&w.MaxSpeed, 50/3.6)
	setDefault(&w.LeftTurnMaxV, 8)
	setDefault(&w.RightTurnMaxV, 6)
	setDefault(&w.StraightMaxV, w.MaxSpeed)

	im := &config.Intersection
	setDefault(&im.EarlyError, 0.05)
	setDefault(&im.LateError, 0.05)
	setDefault(&im.ACZDistance, 20)
	setDefault(&im.Horizon, 15)
	setDefault(&im.ProcessingTime, config.Control.Step.Interval)
	setDefault(&im.RejectCooldown, 0.5)
	setDefault(&im.SafetyBuffer, 0.2)

	va := &config.Vehicle
	setDefault(&va.Length, 5)
	setDefault(&va.Width, 2)
	setDefault(&va.MaxSpeed, 50/3.6)
	setDefault(&va.MaxAcceleration, 3)
	setDefault(&va.MaxBrakingAcceleration, -5)
	setDefault(&va.UsualBrakingAcceleration, -4.5)
	setDefault(&va.MinGap, 2)
	setDefault(&va.Headway, 1.5)

	co := &config.Coordinator
	setDefault(&co.MinFutureReservationTime, 0.1)
	setDefault(&co.MaxFutureReservationTime, 10)
	setDefault(&co.SendingRetryDelay, 0.2)
	setDefault(&co.RequestTimeout, 1)
	setDefault(&co.ReplyLatency, config.Control.Step.Interval)
	setDefault(&co.StopRangeMargin, 50)
	setDefault(&co.FollowingDistance, 5)
	setDefault(&co.MaxLanesToTry, 3)
	lc := &co.LaneChange
	setDefault(&lc.SuccessCooldown, 1)
	setDefault(&lc.FailureCooldown, 3)
	setDefault(&lc.TimeLimit, 5)
	setDefault(&lc.MinSpeed, 1)
	setDefault(&lc.MinDistance, 30)
	setDefault(&lc.LeadDistance, 5)
	setDefault(&lc.RearMargin, 3)

	g := &config.Generator
	setDefault(&g.Seed, 1)
	setDefault(&g.Count, 20)
	setDefault(&g.Interval, 4)
	setDefault(&g.InitialV, 10)
	setDefault(&g.TurnWeights, [3]float64{1, 2, 1})

	switch {
	case config.Control.Step.Interval <= 0:
		return nil, fmt.Errorf("config: step interval must be positive, got %v", config.Control.Step.Interval)
	case w.Arms < 3:
		return nil, fmt.Errorf("config: intersection needs at least 3 arms, got %d", w.Arms)
	case im.ACZDistance >= w.RoadLength:
		return nil, fmt.Errorf("config: acz_distance %v must be shorter than road_length %v", im.ACZDistance, w.RoadLength)
	case va.MaxAcceleration <= 0 || va.MaxBrakingAcceleration >= 0:
		return nil, fmt.Errorf("config: bad vehicle acceleration bounds [%v, %v]", va.MaxBrakingAcceleration, va.MaxAcceleration)
	case co.MinFutureReservationTime > co.MaxFutureReservationTime:
		return nil, fmt.Errorf("config: min_future_reservation_time %v > max_future_reservation_time %v",
			co.MinFutureReservationTime, co.MaxFutureReservationTime)
	case co.MaxFutureReservationTime > im.Horizon:
		return nil, fmt.Errorf("config: max_future_reservation_time %v exceeds intersection horizon %v",
			co.MaxFutureReservationTime, im.Horizon)
	case co.MinFutureReservationTime < im.ProcessingTime:
		// 否则请求到达路口管理器时可能已经过晚
		return nil, fmt.Errorf("config: min_future_reservation_time %v < intersection processing_time %v",
			co.MinFutureReservationTime, im.ProcessingTime)
	case co.ReplyLatency < config.Control.Step.Interval:
		return nil, fmt.Errorf("config: reply_latency %v is shorter than one step %v",
			co.ReplyLatency, config.Control.Step.Interval)
	case co.SendingRetryDelay < 0 || im.RejectCooldown < 0 || co.LaneChange.SuccessCooldown < 0 || co.LaneChange.FailureCooldown < 0:
		return nil, fmt.Errorf("config: cooldowns must be positive")
	}
	if co.RequestTimeout < 0 {
		co.RequestTimeout = math.Inf(1)
	}

	return &RuntimeConfig{
		All: config,
		C:   config.Control,
	}, nil
}
