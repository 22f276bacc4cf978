package kinematic

import "math"

const (
	// StrictEps 严格的浮点数相等判定阈值，用于绝大多数几何与积分判定
	StrictEps = 1e-7
	// WeakEps 宽松的浮点数相等判定阈值
	// 功能：用于将实际到达时间/速度与已批准的预约进行交叉校验，以及纯线性加减速情形下的距离校验
	// 说明：体现真实世界中时钟与测量的误差，不是bug
	WeakEps = 1e-3
)

// Tolerance 浮点数比较策略
// 功能：以显式阈值进行浮点数的近似相等比较，避免直接使用==
type Tolerance float64

var (
	Strict = Tolerance(StrictEps) // 严格比较
	Weak   = Tolerance(WeakEps)   // 宽松比较
)

// Equal 判断a与b是否近似相等
func (e Tolerance) Equal(a, b float64) bool {
	return math.Abs(a-b) <= float64(e)
}

// Less 判断a是否显著小于b
func (e Tolerance) Less(a, b float64) bool {
	return a < b-float64(e)
}

// Greater 判断a是否显著大于b
func (e Tolerance) Greater(a, b float64) bool {
	return a > b+float64(e)
}

// LessOrEqual 判断a是否小于或近似等于b
func (e Tolerance) LessOrEqual(a, b float64) bool {
	return a <= b+float64(e)
}

// GreaterOrEqual 判断a是否大于或近似等于b
func (e Tolerance) GreaterOrEqual(a, b float64) bool {
	return a >= b-float64(e)
}

// Zero 判断a是否近似为0
func (e Tolerance) Zero(a float64) bool {
	return math.Abs(a) <= float64(e)
}

// StopDistance 以制动加速度dMax(<0)从速度v刹停所需的距离
func StopDistance(v, dMax float64) float64 {
	if v <= 0 {
		return 0
	}
	return v * v / 2 / -dMax
}

// StopTime 以制动加速度dMax(<0)从速度v刹停所需的时间
func StopTime(v, dMax float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / -dMax
}
