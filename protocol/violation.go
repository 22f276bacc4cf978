package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Violation 协议违规
// 功能：车辆收到不可恢复的拒绝、或到达路口时偏离了确认的到达参数
// 说明：与求解器的不可行错误区分开，上层据此终止该车辆的运行
type Violation struct {
	VehicleID int32
	State     string // 发生违规时协调器所处的状态
	cause     error
}

// NewViolation 创建协议违规错误，附带调用栈
func NewViolation(vehicleID int32, state string, format string, args ...any) error {
	return &Violation{
		VehicleID: vehicleID,
		State:     state,
		cause:     errors.Errorf(format, args...),
	}
}

func (v *Violation) Error() string {
	return fmt.Sprintf("protocol violation by vehicle %d in %s: %v", v.VehicleID, v.State, v.cause)
}

func (v *Violation) Unwrap() error {
	return v.cause
}

// Format 支持%+v输出调用栈
func (v *Violation) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "protocol violation by vehicle %d in %s: %+v", v.VehicleID, v.State, v.cause)
		return
	}
	fmt.Fprint(s, v.Error())
}

// IsViolation 判断错误链中是否含有协议违规
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}
