package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
type InputPath struct {
	DB   string `yaml:"db"`             // 数据库名
	Col  string `yaml:"col"`            // 集合名
	File string `yaml:"file,omitempty"` // YAML文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// Input 指定模拟器所有输入数据的配置项
// 说明：Vehicles为空时使用Generator随机生成车辆
type Input struct {
	URI      string     `yaml:"uri"`                // MongoDB连接字符串
	Vehicles *InputPath `yaml:"vehicles,omitempty"` // 车辆出发列表
}

// Output 预约事件输出配置
// 说明：URI为空时只写日志
type Output struct {
	URI string `yaml:"uri,omitempty"`
	DB  string `yaml:"db,omitempty"`
	Col string `yaml:"col,omitempty"`
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔
}

// Control 模拟器控制配置
type Control struct {
	Step ControlStep `yaml:"step"`
}

// World 单路口路网
// 功能：描述以原点为中心、Arms个方向各有一条进口道与一条出口道的路口
type World struct {
	Arms          int     `yaml:"arms,omitempty"`            // 路口方向数，默认4
	LanesPerRoad  int     `yaml:"lanes_per_road,omitempty"`  // 每条道路的车道数，默认3
	LaneWidth     float64 `yaml:"lane_width,omitempty"`      // 车道宽度(m)，默认3.2
	RoadLength    float64 `yaml:"road_length,omitempty"`     // 道路长度(m)，默认300
	MaxSpeed      float64 `yaml:"max_speed,omitempty"`       // 道路限速(m/s)，默认16.67
	LeftTurnMaxV  float64 `yaml:"left_turn_max_v,omitempty"` // 路口内左转最大速度(m/s)，默认8
	RightTurnMaxV float64 `yaml:"right_turn_max_v,omitempty"`
	StraightMaxV  float64 `yaml:"straight_max_v,omitempty"`
}

// Intersection 路口预约管理器配置
type Intersection struct {
	EarlyError     float64 `yaml:"early_error,omitempty"`      // 允许提前到达的时间(s)
	LateError      float64 `yaml:"late_error,omitempty"`       // 允许延后到达的时间(s)
	ACZDistance    float64 `yaml:"acz_distance,omitempty"`     // 驶出路口后的管控区长度(m)
	Horizon        float64 `yaml:"horizon,omitempty"`          // 可预约的最远未来时间(s)
	ProcessingTime float64 `yaml:"processing_time,omitempty"` // 请求处理所需时间，到达时刻早于now+该值视为过晚(s)
	RejectCooldown float64 `yaml:"reject_cooldown,omitempty"` // 拒绝后车辆需要等待的时间(s)
	SafetyBuffer   float64 `yaml:"safety_buffer,omitempty"`    // 冲突检测时占用时间窗的额外缓冲(s)
}

// VehicleAttr 车辆属性
type VehicleAttr struct {
	Length                   float64 `yaml:"length,omitempty"`
	Width                    float64 `yaml:"width,omitempty"`
	MaxSpeed                 float64 `yaml:"max_speed,omitempty"`
	MaxAcceleration          float64 `yaml:"max_acceleration,omitempty"`
	MaxBrakingAcceleration   float64 `yaml:"max_braking_acceleration,omitempty"` // 负数
	UsualBrakingAcceleration float64 `yaml:"usual_braking_acceleration,omitempty"`
	MinGap                   float64 `yaml:"min_gap,omitempty"`
	Headway                  float64 `yaml:"headway,omitempty"`
}

// LaneChange 变道子状态机参数
type LaneChange struct {
	Disable         bool    `yaml:"disable,omitempty"`
	SuccessCooldown float64 `yaml:"success_cooldown,omitempty"` // 变道成功后再次考虑变道的冷却时间(s)
	FailureCooldown float64 `yaml:"failure_cooldown,omitempty"` // 变道失败后的冷却时间(s)
	TimeLimit       float64 `yaml:"time_limit,omitempty"`       // 等待变道时机的最长时间(s)
	MinSpeed        float64 `yaml:"min_speed,omitempty"`        // 允许开始变道的最低速度(m/s)
	MinDistance     float64 `yaml:"min_distance,omitempty"`     // 距路口小于该距离时不再变道(m)
	LeadDistance    float64 `yaml:"lead_distance,omitempty"`    // 目标车道前方最小空档(m)
	RearMargin      float64 `yaml:"rear_margin,omitempty"`      // 目标车道后方空档在车长之外的余量(m)
}

// Coordinator 车辆协商状态机参数
type Coordinator struct {
	MinFutureReservationTime float64    `yaml:"min_future_reservation_time,omitempty"` // 到达时刻至少在now之后多久(s)
	MaxFutureReservationTime float64    `yaml:"max_future_reservation_time,omitempty"` // 到达时刻至多在now之后多久(s)
	SendingRetryDelay        float64    `yaml:"sending_retry_delay,omitempty"`         // 请求失败后再次发送的间隔(s)
	RequestTimeout           float64    `yaml:"request_timeout,omitempty"`             // 等待回复的超时时间(s)，负数表示不超时
	ReplyLatency             float64    `yaml:"reply_latency,omitempty"`               // 预计回复到达的延迟(s)，默认为一个仿真步长
	StopRangeMargin          float64    `yaml:"stop_range_margin,omitempty"`           // 制动距离之外开始发起预约的余量(m)
	FollowingDistance        float64    `yaml:"following_distance,omitempty"`          // 跟车安全距离余量(m)
	MaxLanesToTry            int        `yaml:"max_lanes_to_try,omitempty"`            // 每个请求最多包含的驶出车道数
	LaneChange               LaneChange `yaml:"lane_change"`
}

// Generator 随机车辆生成
type Generator struct {
	Seed           uint64     `yaml:"seed,omitempty"`
	Count          int        `yaml:"count,omitempty"`            // 每个进口道生成的车辆数
	Interval       float64    `yaml:"interval,omitempty"`         // 平均出发间隔(s)
	InitialV       float64    `yaml:"initial_v,omitempty"`        // 初速度(m/s)
	TurnWeights    [3]float64 `yaml:"turn_weights,omitempty"`     // 左转/直行/右转权重
	WrongLaneRatio float64    `yaml:"wrong_lane_ratio,omitempty"` // 出发车道不允许目标转向、需要换道的车辆比例
}

// Config YAML配置文件的根结构
type Config struct {
	Input        Input        `yaml:"input"`
	Output       Output       `yaml:"output"`
	Control      Control      `yaml:"control"`
	World        World        `yaml:"world"`
	Intersection Intersection `yaml:"intersection"`
	Vehicle      VehicleAttr  `yaml:"vehicle"`
	Coordinator  Coordinator  `yaml:"coordinator"`
	Generator    Generator    `yaml:"generator"`
}
