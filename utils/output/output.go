// 预约事件输出
package output

import (
	"context"
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var log = logrus.WithField("module", "output")

// 事件类型
const (
	KindDepart    = "depart"    // 车辆出发
	KindRequest   = "request"   // 收到预约请求
	KindConfirm   = "confirm"   // 批准预约
	KindReject    = "reject"    // 拒绝预约
	KindCancel    = "cancel"    // 取消预约
	KindDone      = "done"      // 驶出路口
	KindAway      = "away"      // 驶出管控区
	KindEnter     = "enter"     // 车头越过停止线
	KindViolation = "violation" // 协议错误，车辆被移除
	KindArrive    = "arrive"    // 到达终点
)

// Event 预约事件
type Event struct {
	T              float64 `bson:"t"`
	Vehicle        int32   `bson:"vehicle"`
	IntersectionID int32   `bson:"intersection,omitempty"`
	Kind           string  `bson:"kind"`
	ReservationID  int32   `bson:"reservation"`
	Detail         string  `bson:"detail,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("t=%.2f vehicle=%d %s reservation=%d %s",
		e.T, e.Vehicle, e.Kind, e.ReservationID, e.Detail)
}

// Recorder 事件记录器
// 功能：缓存一步内的所有事件，在步末统一写入MongoDB；未配置MongoDB时只写Debug日志
// 说明：Record可被多个协程并发调用
type Recorder struct {
	mtx    sync.Mutex
	buffer []Event
	total  int

	client *mongo.Client
	coll   *mongo.Collection
}

// New 创建事件记录器
// 参数：c-输出配置，URI为空时不连接数据库
func New(c config.Output) *Recorder {
	r := &Recorder{}
	if c.URI != "" {
		r.client = mongoutil.NewClient(c.URI)
		r.coll = mongoutil.GetMongoColl(r.client, config.InputPath{DB: c.DB, Col: c.Col})
		log.Infof("output events to %s.%s", c.DB, c.Col)
	}
	return r
}

// Record 记录事件
func (r *Recorder) Record(e Event) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.buffer = append(r.buffer, e)
}

// Total 已写出的事件总数
func (r *Recorder) Total() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.total
}

// Flush 写出缓存中的事件
func (r *Recorder) Flush(ctx context.Context) error {
	r.mtx.Lock()
	events := r.buffer
	r.buffer = nil
	r.total += len(events)
	r.mtx.Unlock()
	if len(events) == 0 {
		return nil
	}
	if r.coll == nil {
		for _, e := range events {
			log.Debug(e)
		}
		return nil
	}
	docs := make([]any, len(events))
	for i, e := range events {
		docs[i] = e
	}
	if _, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("output: insert %d events: %w", len(docs), err)
	}
	return nil
}

// Close 写出剩余事件并断开数据库连接
func (r *Recorder) Close(ctx context.Context) error {
	err := r.Flush(ctx)
	if r.client != nil {
		if derr := r.client.Disconnect(ctx); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}
