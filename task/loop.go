package task

import (
	"context"
	"flag"
	"sync"
)

const (
	SelfName = "aim" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// prepare 准备阶段，每步执行一次
// 功能：推进时钟，并让所有实体在更新阶段前处于一致的快照状态
// 算法说明：
// 1. 更新时钟
// 2. 心跳日志：定期输出仿真进度
// 3. 车辆管理器：移除结束行程的车辆、放出到达出发时刻的车辆、更新链表节点
// 4. 并行：车辆snapshot更新，车道链表增删与排序
// 5. 路口管理器：处理上一步收到的消息并把回复投递到车辆收件箱
func (ctx *Context) prepare() {
	ctx.clock.Step()

	if ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		stats := ctx.vehicleManager.Stats()
		log.Infof(
			"STEP: %d(%v) running=%d arrived=%d violations=%d reservations=%d",
			ctx.clock.InternalStep, ctx.clock,
			len(ctx.vehicleManager.Vehicles()), stats.Arrived, stats.Violations,
			ctx.junctionManager.Reservations(),
		)
	}

	ctx.vehicleManager.PrepareNode()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.vehicleManager.Prepare() // vehicle
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.laneManager.Prepare() // lane
	}()
	wg.Wait()

	ctx.junctionManager.Prepare() // junction
}

// update 更新阶段，每步执行一次
// 功能：所有车辆并行执行协商状态机与运动积分，然后写出本步记录的事件
func (ctx *Context) update() {
	ctx.vehicleManager.Update(ctx.clock.DT)
	if err := ctx.recorder.Flush(context.Background()); err != nil {
		log.Errorf("step %d: %v", ctx.clock.InternalStep, err)
	}
}

// Step 执行一个完整的仿真步（不与syncer同步）
func (ctx *Context) Step() {
	ctx.prepare()
	ctx.update()
}

// Finished 所有车辆结束行程或到达结束步
func (ctx *Context) Finished() bool {
	return ctx.vehicleManager.Finished() || ctx.clock.InternalStep+1 >= ctx.clock.EndStep
}

// Run 运行
// 说明：每步在准备阶段结束后通知syncer，外部服务可以在准备与更新之间通过RPC读取时钟
func (ctx *Context) Run() {
	ctx.Init()
	// init syncer
	ctx.sidecar.Step(false)
	for {
		ctx.prepare()
		log.Debugf("step %d: prepare complete and call NotifyStepReady", ctx.clock.InternalStep)
		ctx.sidecar.NotifyStepReady()
		ctx.update()
		log.Debugf("step %d: update complete", ctx.clock.InternalStep)
		finished := ctx.Finished()
		close := ctx.sidecar.Step(finished)
		if close || finished || ctx.closed.Load() {
			break
		}
	}
	log.Infof("engine complete")
	ctx.Close()
}
