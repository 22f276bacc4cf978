package input

import (
	"context"
	"fmt"
	"os"
	"sort"

	"git.fiblab.net/general/common/v2/mongoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/randengine"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v2"
)

// Vehicle 车辆出发数据
// 说明：位置以方向序号与车道序号表示，由车辆管理器转换为车道
type Vehicle struct {
	ID            int32               `yaml:"id" bson:"id"`
	DepartureTime float64             `yaml:"departure_time" bson:"departure_time"` // 出发时刻(s)
	From          int                 `yaml:"from" bson:"from"`                     // 出发方向序号
	Lane          int                 `yaml:"lane" bson:"lane"`                     // 进口道车道序号，0为最左侧
	S             float64             `yaml:"s,omitempty" bson:"s,omitempty"`       // 在车道上的初始位置
	V             float64             `yaml:"v,omitempty" bson:"v,omitempty"`       // 初速度
	To            int                 `yaml:"to" bson:"to"`                         // 驶出方向序号
	Attr          *config.VehicleAttr `yaml:"attr,omitempty" bson:"attr,omitempty"` // 为空时使用全局车辆属性
}

type vehicleFile struct {
	Vehicles []Vehicle `yaml:"vehicles"`
}

// Input 输入数据
type Input struct {
	Map      *Map
	Vehicles []Vehicle
}

// Init 加载输入数据
// 功能：生成路网，并从YAML文件、MongoDB或随机生成器中获取车辆出发列表
// 参数：c-运行时配置
// 返回：输入数据；数据源无法读取或数据不合法时返回错误
// 算法说明：
// 1. 路网总是由World配置生成
// 2. 车辆：配置了文件则读文件，否则配置了MongoDB集合则下载，都没有时随机生成
// 3. 检查ID唯一、方向与车道序号合法，并按出发时刻排序
func Init(ctx context.Context, c *config.RuntimeConfig) (*Input, error) {
	res := &Input{Map: NewCrossroads(c.All.World)}
	var err error
	in := c.All.Input
	switch {
	case in.Vehicles != nil && in.Vehicles.File != "":
		res.Vehicles, err = loadFile(in.Vehicles.File)
	case in.Vehicles != nil:
		if in.URI == "" {
			return nil, fmt.Errorf("input: vehicles from %s.%s but no mongo uri", in.Vehicles.DB, in.Vehicles.Col)
		}
		res.Vehicles, err = loadMongo(ctx, in.URI, *in.Vehicles)
	default:
		res.Vehicles = Generate(c.All.World, c.All.Generator)
	}
	if err != nil {
		return nil, err
	}
	if err := validate(res.Vehicles, c.All.World); err != nil {
		return nil, err
	}
	sort.SliceStable(res.Vehicles, func(i, j int) bool {
		return res.Vehicles[i].DepartureTime < res.Vehicles[j].DepartureTime
	})
	log.Infof("input: %d lanes, %d roads, %d vehicles",
		len(res.Map.Lanes), len(res.Map.Roads), len(res.Vehicles))
	return res, nil
}

func loadFile(path string) ([]Vehicle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("input: read %s: %w", path, err)
	}
	var f vehicleFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("input: parse %s: %w", path, err)
	}
	return f.Vehicles, nil
}

func loadMongo(ctx context.Context, uri string, path config.InputPath) ([]Vehicle, error) {
	client := mongoutil.NewClient(uri)
	defer client.Disconnect(context.Background())
	coll := mongoutil.GetMongoColl(client, path)
	log.Infof("start fetching from %s.%s", path.DB, path.Col)
	cursor, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("input: find in %s.%s: %w", path.DB, path.Col, err)
	}
	var vehicles []Vehicle
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, fmt.Errorf("input: decode %s.%s: %w", path.DB, path.Col, err)
	}
	log.Infof("finish fetching %d vehicles from %s.%s", len(vehicles), path.DB, path.Col)
	return vehicles, nil
}

func validate(vehicles []Vehicle, w config.World) error {
	if dup := lo.FindDuplicatesBy(vehicles, func(v Vehicle) int32 { return v.ID }); len(dup) > 0 {
		return fmt.Errorf("input: duplicated vehicle id %d", dup[0].ID)
	}
	for _, v := range vehicles {
		switch {
		case v.From < 0 || v.From >= w.Arms || v.To < 0 || v.To >= w.Arms:
			return fmt.Errorf("input: vehicle %d has bad arms %d->%d", v.ID, v.From, v.To)
		case ArmTurn(w.Arms, v.From, v.To) == mapv2.LaneTurn_LANE_TURN_AROUND:
			return fmt.Errorf("input: vehicle %d makes a u-turn at arm %d", v.ID, v.From)
		case v.Lane < 0 || v.Lane >= w.LanesPerRoad:
			return fmt.Errorf("input: vehicle %d has bad lane %d", v.ID, v.Lane)
		case v.S < 0 || v.S >= w.RoadLength:
			return fmt.Errorf("input: vehicle %d has bad s %v", v.ID, v.S)
		}
	}
	return nil
}

// Generate 随机生成车辆出发列表
// 功能：每个方向生成g.Count辆车，出发间隔服从均值为g.Interval的指数分布，
// 车道随机、转向按g.TurnWeights随机，使部分车辆需要变道
func Generate(w config.World, g config.Generator) []Vehicle {
	engine := randengine.New(g.Seed)
	vehicles := make([]Vehicle, 0, w.Arms*g.Count)
	id := int32(0)
	for from := 0; from < w.Arms; from++ {
		// 按转向分组的驶出方向
		byTurn := make([][]int, 3)
		for to := 0; to < w.Arms; to++ {
			switch ArmTurn(w.Arms, from, to) {
			case mapv2.LaneTurn_LANE_TURN_LEFT:
				byTurn[0] = append(byTurn[0], to)
			case mapv2.LaneTurn_LANE_TURN_STRAIGHT:
				byTurn[1] = append(byTurn[1], to)
			case mapv2.LaneTurn_LANE_TURN_RIGHT:
				byTurn[2] = append(byTurn[2], to)
			}
		}
		weights := make([]float64, 3)
		for i := range weights {
			if len(byTurn[i]) > 0 {
				weights[i] = g.TurnWeights[i]
			}
		}
		t := 0.
		for i := 0; i < g.Count; i++ {
			t += engine.ExpFloat64() * g.Interval
			turn := engine.DiscreteDistribution(weights)
			candidates := byTurn[turn]
			to := candidates[engine.Intn(len(candidates))]
			lane := engine.Intn(w.LanesPerRoad)
			if !engine.PTrue(g.WrongLaneRatio) {
				allowed := lo.Filter(lo.Range(w.LanesPerRoad), func(offset int, _ int) bool {
					return lo.Contains(LanePermissions(offset, w.LanesPerRoad), ArmTurn(w.Arms, from, to))
				})
				lane = allowed[engine.Intn(len(allowed))]
			}
			vehicles = append(vehicles, Vehicle{
				ID:            id,
				DepartureTime: t,
				From:          from,
				Lane:          lane,
				V:             g.InitialV,
				To:            to,
			})
			id++
		}
	}
	return vehicles
}
