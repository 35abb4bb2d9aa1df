// Package gateway 实现连接网关：入站消息分发、订阅转发与市场/图鉴转发。
package gateway

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/battlestream/internal/battle"
	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/internal/market"
	"github.com/lk2023060901/battlestream/internal/metrics"
	"github.com/lk2023060901/battlestream/internal/router"
	"github.com/lk2023060901/battlestream/pkg/logger"
	"github.com/lk2023060901/battlestream/pkg/websocket"
)

// 入站消息类型
const (
	MsgSubscribeBattle   = "subscribe_battle"
	MsgUnsubscribeBattle = "unsubscribe_battle"
	MsgRequestBattleList = "request_battle_list"
	MsgStartBattle       = "start_battle"
	MsgCreateQuest       = "create_quest"
	MsgSubmitPrediction  = "submit_prediction"
	MsgGetBattleHistory  = "get_battle_history"
)

// subscribeRequest 订阅/退订请求
type subscribeRequest struct {
	BattleID int64 `json:"battleId"`
}

// startBattleRequest 开战请求
type startBattleRequest struct {
	EncounterID string `json:"encounterId"`
	Opponents   int    `json:"opponents"`
}

// historyRequest 战果历史请求
type historyRequest struct {
	EncounterID string `json:"encounterId"`
}

// errorReply 错误回执，只发给出错的连接
type errorReply struct {
	Request string `json:"request"`
	Message string `json:"message"`
}

// welcomeReply 欢迎消息，附带当前对战列表
type welcomeReply struct {
	ConnID  string           `json:"connId"`
	Battles []battle.Summary `json:"battles"`
}

// Gateway 连接网关
// 实现 websocket.Handler，把入站消息分发到对战管理器、路由器与外部服务
type Gateway struct {
	logger  logger.Logger
	metrics *metrics.Metrics

	manager *battle.Manager
	router  *router.Router
	market  market.Market
	catalog catalog.Catalog
}

var _ websocket.Handler = (*Gateway)(nil)

// New 创建网关
func New(manager *battle.Manager, r *router.Router, mkt market.Market, cat catalog.Catalog, l logger.Logger, m *metrics.Metrics) *Gateway {
	if l == nil {
		l = logger.Nop()
	}
	return &Gateway{
		logger:  l.Named("gateway"),
		metrics: m,
		manager: manager,
		router:  r,
		market:  mkt,
		catalog: cat,
	}
}

// OnConnect 注册连接并下发欢迎消息
func (g *Gateway) OnConnect(conn *websocket.Connection) error {
	g.router.Register(conn)

	return conn.Send("welcome", welcomeReply{
		ConnID:  conn.ID(),
		Battles: g.manager.Summaries(),
	})
}

// OnDisconnect 注销连接并清理其订阅
func (g *Gateway) OnDisconnect(conn *websocket.Connection, err error) {
	g.router.Disconnect(conn.ID())
}

// OnMessage 解析并分发一条入站消息
// 单条消息处理失败只回执给发送方，不影响连接与其他订阅者
func (g *Gateway) OnMessage(conn *websocket.Connection, data []byte) {
	var msg websocket.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.metrics.OnMessageIn("malformed", "error")
		g.sendError(conn, "", "malformed message")
		return
	}

	ctx := context.Background()
	var err error
	// 指标标签只取已知类型，未知类型折叠为固定值，客户端无法刷出无界序列
	metricType := msg.Type
	switch msg.Type {
	case MsgSubscribeBattle:
		err = g.handleSubscribe(conn, msg.Data)
	case MsgUnsubscribeBattle:
		err = g.handleUnsubscribe(conn, msg.Data)
	case MsgRequestBattleList:
		err = g.handleBattleList(conn)
	case MsgStartBattle:
		err = g.handleStartBattle(ctx, conn, msg.Data)
	case MsgCreateQuest:
		err = g.handleCreateQuest(ctx, conn, msg.Data)
	case MsgSubmitPrediction:
		err = g.handleSubmitPrediction(ctx, conn, msg.Data)
	case MsgGetBattleHistory:
		err = g.handleHistory(ctx, conn, msg.Data)
	default:
		metricType = "unknown"
		err = errors.Newf("unknown message type %q", msg.Type)
	}

	if err != nil {
		g.metrics.OnMessageIn(metricType, "error")
		g.logger.Debug("message handling failed",
			"conn_id", conn.ID(),
			"msg_type", msg.Type,
			"error", err,
		)
		g.sendError(conn, msg.Type, err.Error())
		return
	}
	g.metrics.OnMessageIn(metricType, "ok")
}

func (g *Gateway) handleSubscribe(conn *websocket.Connection, data json.RawMessage) error {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parse subscribe request")
	}
	return g.router.Subscribe(conn.ID(), req.BattleID)
}

func (g *Gateway) handleUnsubscribe(conn *websocket.Connection, data json.RawMessage) error {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parse unsubscribe request")
	}
	g.router.Unsubscribe(conn.ID(), req.BattleID)
	return nil
}

func (g *Gateway) handleBattleList(conn *websocket.Connection) error {
	return conn.Send("battle_list", map[string]interface{}{
		"battles": g.manager.Summaries(),
	})
}

func (g *Gateway) handleStartBattle(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var req startBattleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parse start battle request")
	}

	id, err := g.manager.StartBattle(ctx, req.EncounterID, battle.Options{Opponents: req.Opponents}, battle.TriggerClient)
	if err != nil {
		return err
	}

	// 开战广播由管理器负责，这里只给发起方回执
	return conn.Send("battle_queued", map[string]int64{"battleId": id})
}

func (g *Gateway) handleCreateQuest(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var req market.CreateQuestRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parse create quest request")
	}
	if !g.manager.Tracked(req.BattleID) {
		return errors.Wrapf(battle.ErrBattleNotFound, "id %d", req.BattleID)
	}

	quest, err := g.market.CreateQuest(ctx, &req)
	if err != nil {
		return err
	}

	g.router.BroadcastAll("quest_created", quest)
	return nil
}

func (g *Gateway) handleSubmitPrediction(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var req market.SubmitPredictionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parse submit prediction request")
	}

	prediction, err := g.market.SubmitPrediction(ctx, &req)
	if err != nil {
		return err
	}

	g.router.BroadcastAll("prediction_submitted", prediction)
	return nil
}

func (g *Gateway) handleHistory(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var req historyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parse history request")
	}

	history, err := g.catalog.History(ctx, req.EncounterID)
	if err != nil {
		return err
	}

	return conn.Send("battle_history", map[string]interface{}{
		"encounterId": req.EncounterID,
		"outcomes":    history,
	})
}

// sendError 把错误回执给出错的连接
func (g *Gateway) sendError(conn *websocket.Connection, request, message string) {
	if err := conn.Send("error", errorReply{Request: request, Message: message}); err != nil {
		g.logger.Debug("error reply send failed", "conn_id", conn.ID(), "error", err)
	}
}
