package task

import (
	"context"
	"fmt"
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/aim-sim-oss/clock"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/junction"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/road"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/vehicle"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态，替代全局变量
// 说明：管理时钟、各实体管理器、配置与事件输出
type Context struct {
	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock

	// 辅助程序，处理与syncer、其他服务的交互，为nil时只能通过Step单独推进
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}
	// 是否启动了sidecar服务
	serving bool

	// Lane管理器
	laneManager *lane.LaneManager
	// Road管理器
	roadManager *road.RoadManager
	// Junction管理器
	junctionManager *junction.JunctionManager
	// Vehicle管理器
	vehicleManager *vehicle.VehicleManager

	// 运行时配置
	runtimeConfig *config.RuntimeConfig
	// 预约事件输出
	recorder *output.Recorder

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 参数：
//   - job: 任务名称
//   - c: 配置对象
//   - sidecar: sidecar实例，为nil时不注册RPC也不与syncer同步
//   - startSidecarServe: 是否启动sidecar服务
//
// 返回：初始化完成的Context实例；配置或输入数据不合法时返回错误
// 算法说明：
// 1. 补齐配置默认值并检查参数
// 2. 生成路网并加载车辆出发列表
// 3. 创建时钟、事件输出与各类管理器
// 4. 注册时钟RPC并启动sidecar服务（如果需要）
func NewContext(
	job string,
	c config.Config,
	sidecar *syncer.Sidecar,
	startSidecarServe bool,
) (*Context, error) {
	rc, err := config.NewRuntimeConfig(c)
	if err != nil {
		return nil, err
	}
	initRes, err := input.Init(context.Background(), rc)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", job, err)
	}
	ctx := &Context{
		job:            job,
		clock:          clock.New(rc.C.Step),
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}),
		runtimeConfig:  rc,
		recorder:       output.New(rc.All.Output),
		initRes:        initRes,
	}

	// 新建各类模拟对象
	ctx.laneManager = lane.NewManager()
	ctx.roadManager = road.NewManager()
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.vehicleManager = vehicle.NewManager(ctx)

	if sidecar != nil {
		ctx.clock.Register(sidecar)
		if startSidecarServe {
			ctx.serving = true
			go func() {
				err := ctx.sidecar.Serve()
				if err != nil {
					log.Panicf("failed to serve: %v", err)
				}
				ctx.sidecarCloseCh <- struct{}{}
			}()
		}
	}
	return ctx, nil
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) RoadManager() entity.IRoadManager {
	return ctx.roadManager
}

func (ctx *Context) JunctionManager() entity.IJunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) VehicleManager() entity.IVehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

func (ctx *Context) Recorder() entity.IRecorder {
	return ctx.recorder
}

// Stats 车辆统计数据
func (ctx *Context) Stats() vehicle.GlobalRuntime {
	return ctx.vehicleManager.Stats()
}

// Init 按依赖顺序初始化路网与车辆
func (ctx *Context) Init() {
	ctx.clock.Init()

	mapData := ctx.initRes.Map
	log.Infof("Lane: %v", len(mapData.Lanes))
	log.Infof("Road: %v", len(mapData.Roads))
	log.Infof("Junction: %v", len(mapData.Junctions))
	log.Infof("Vehicle: %v", len(ctx.initRes.Vehicles))

	ctx.laneManager.Init(mapData.Lanes) // 先完成lane的所有初始化
	ctx.roadManager.Init(mapData.Roads, ctx.laneManager)
	ctx.junctionManager.Init(mapData.Junctions, ctx.laneManager, ctx.roadManager)
	// road初始化其中的路口
	ctx.roadManager.InitAfterJunction(ctx.junctionManager)

	// 完成地图构建后，开始构建vehicle
	ctx.vehicleManager.Init(ctx.initRes.Vehicles)
}

// Close 写出剩余事件并关闭sidecar
func (ctx *Context) Close() {
	if ctx.closed.Load() {
		return
	}
	stats := ctx.vehicleManager.Stats()
	log.Infof("%s: departed=%d arrived=%d violations=%d total travel time=%.2fs, %d events",
		ctx.job, stats.Departed, stats.Arrived, stats.Violations, stats.TravelTime, ctx.recorder.Total())
	if err := ctx.recorder.Close(context.Background()); err != nil {
		log.Errorf("close recorder: %v", err)
	}
	if ctx.sidecar != nil {
		ctx.sidecar.Close()
	}
	if ctx.serving {
		// wait for graceful stop
		<-ctx.sidecarCloseCh
	}
	ctx.closed.Store(true)
}
