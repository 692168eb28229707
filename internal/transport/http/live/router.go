package livehttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"midas/internal/logger"
	"midas/internal/order"
	"midas/internal/position"
)

// Ledger 是持仓查询边界。
type Ledger interface {
	Positions(account int) []*position.Position
}

// Pool 是在途订单查询边界。
type Pool interface {
	Orders(account int) []*order.Order
}

// Schedule 暴露调度表内容，便于人工核对下一步动作。
type Schedule interface {
	Pending() map[string][]string
}

// AllocationSource 是配比查询边界。
type AllocationSource interface {
	Allocations(ctx context.Context, strategies []string) (map[string]float64, error)
}

// Router 暴露实盘状态查询接口（持仓/订单/调度/配比）。
type Router struct {
	ledger     Ledger
	pool       Pool
	sched      Schedule
	allocator  AllocationSource
	strategies []string
}

// NewRouter 构造 live HTTP router。
func NewRouter(ledger Ledger, pool Pool, sched Schedule, allocator AllocationSource, strategies []string) *Router {
	return &Router{ledger: ledger, pool: pool, sched: sched, allocator: allocator, strategies: strategies}
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/positions", r.handlePositions)
	group.GET("/orders", r.handleOrders)
	group.GET("/schedule", r.handleSchedule)
	group.GET("/allocations", r.handleAllocations)
	group.GET("/health", r.handleHealth)
}

func parseAccount(c *gin.Context) (int, bool) {
	account, err := strconv.Atoi(strings.TrimSpace(c.DefaultQuery("account", "0")))
	if err != nil || account < 0 || account > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account 必须是 0 或 1"})
		return 0, false
	}
	return account, true
}

func (r *Router) handlePositions(c *gin.Context) {
	account, ok := parseAccount(c)
	if !ok {
		return
	}
	positions := r.ledger.Positions(account)
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, viewPosition(p))
	}
	logger.Debugf("[api] live positions ip=%s account=%d count=%d", c.ClientIP(), account, len(views))
	c.JSON(http.StatusOK, gin.H{"account": account, "positions": views})
}

func (r *Router) handleOrders(c *gin.Context) {
	account, ok := parseAccount(c)
	if !ok {
		return
	}
	orders := r.pool.Orders(account)
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, viewOrder(o))
	}
	logger.Debugf("[api] live orders ip=%s account=%d count=%d", c.ClientIP(), account, len(views))
	c.JSON(http.StatusOK, gin.H{"account": account, "orders": views})
}

func (r *Router) handleSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": r.sched.Pending()})
}

func (r *Router) handleAllocations(c *gin.Context) {
	allocs, err := r.allocator.Allocations(c.Request.Context(), r.strategies)
	if err != nil {
		logger.Errorf("[api] live allocations failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocs})
}

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
