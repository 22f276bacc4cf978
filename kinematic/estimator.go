package kinematic

import (
	"errors"
	"fmt"
	"math"
)

// ErrEstimation 无法在剩余距离内减速到目标到达速度
var ErrEstimation = errors.New("kinematic: arrival estimation failed")

// Estimate 到达估计结果
type Estimate struct {
	Time     float64       // 到达时刻(s)
	Velocity float64       // 到达速度(m/s)
	Profile  *AccelProfile // 实现该到达的加速度计划
}

// Estimator 到达估计器
// 功能：给出车辆以"先加速、再巡航、最后减速"的最快方式驶过给定距离时的到达时刻与速度
// 说明：无状态，可以并发调用
type Estimator struct{}

// Estimate 估计到达时刻与速度
// 功能：从(t, v)出发，在不超过vTop的前提下尽快行驶distance，并在终点速度不高于min(vCeil, vTop)
// 参数：t-当前时刻，v-当前速度，distance-到达距离，vTop-速度上限，vCeil-终点速度上限（为0时即为停车估计），aMax-最大加速度，dMax-最大减速度（负数）
// 返回：到达估计，若无法及时减速则返回ErrEstimation
// 算法说明：
// 1. 以加速和减速两段相交的峰值速度作为巡航速度，并截断到vTop
// 2. 若峰值低于终点速度上限，则全程加速，终点速度为加速到达的速度
// 3. 剩余距离以巡航速度匀速行驶
func (Estimator) Estimate(t, v, distance, vTop, vCeil, aMax, dMax float64) (Estimate, error) {
	if aMax <= 0 || dMax >= 0 {
		log.Panicf("estimate: bad acceleration bound aMax=%v dMax=%v", aMax, dMax)
	}
	vArr := math.Max(math.Min(vCeil, vTop), 0)
	v = math.Max(v, 0)
	if distance <= StrictEps {
		if v > vArr+WeakEps {
			return Estimate{}, fmt.Errorf("%w: at line with v=%v above arrival ceiling %v", ErrEstimation, v, vArr)
		}
		return Estimate{Time: t, Velocity: v, Profile: NewAccelProfile(Breakpoint{T: t})}, nil
	}
	if v > vArr {
		if need := (v*v - vArr*vArr) / 2 / -dMax; need > distance+WeakEps {
			return Estimate{}, fmt.Errorf(
				"%w: need %v m to slow from %v to %v but only %v m left",
				ErrEstimation, need, v, vArr, distance,
			)
		}
	}
	d := -dMax
	// 全程加速仍到不了终点速度上限
	if vFull := math.Sqrt(v*v + 2*aMax*distance); vFull <= vArr {
		tAcc := (vFull - v) / aMax
		p := NewAccelProfile()
		if tAcc > StrictEps {
			p.Push(t, aMax)
		}
		p.Push(t+tAcc, 0)
		return Estimate{Time: t + tAcc, Velocity: vFull, Profile: p}, nil
	}
	vPeak := math.Sqrt(math.Max((2*distance*aMax*d+v*v*d+vArr*vArr*aMax)/(aMax+d), 0))
	vPeak = math.Max(math.Min(vPeak, vTop), math.Max(v, vArr))
	tAcc := (vPeak - v) / aMax
	dAcc := (vPeak*vPeak - v*v) / 2 / aMax
	tDec := (vPeak - vArr) / d
	dDec := (vPeak*vPeak - vArr*vArr) / 2 / d
	tCruise := 0.
	if cruise := distance - dAcc - dDec; cruise > 0 && vPeak > 0 {
		tCruise = cruise / vPeak
	}
	p := NewAccelProfile()
	cursor := t
	for _, seg := range []DurationAccel{{tAcc, aMax}, {tCruise, 0}, {tDec, dMax}} {
		if seg.Duration > StrictEps {
			p.Push(cursor, seg.A)
			cursor += seg.Duration
		}
	}
	p.Push(cursor, 0)
	return Estimate{Time: cursor, Velocity: vArr, Profile: p}, nil
}
