package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"paper-core/internal/apperr"
	"paper-core/internal/engine"
	"paper-core/internal/order"
)

type createPortfolioRequest struct {
	Name           string  `json:"name" binding:"required,min=1,max=120"`
	InitialCapital float64 `json:"initial_capital" binding:"gte=0"`
}

type levelRequest struct {
	Price *float64 `json:"price" binding:"required"`
}

type listOrdersQuery struct {
	Status string `form:"status"`
	Symbol string `form:"symbol"`
	Side   string `form:"side"`
	Limit  int    `form:"limit"`
}

func (q *listOrdersQuery) normalize() engine.OrderQuery {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	out := engine.OrderQuery{
		Symbol: strings.ToUpper(strings.TrimSpace(q.Symbol)),
		Side:   strings.ToUpper(strings.TrimSpace(q.Side)),
		Limit:  q.Limit,
	}
	for _, st := range strings.Split(q.Status, ",") {
		if st = strings.ToUpper(strings.TrimSpace(st)); st != "" {
			out.Statuses = append(out.Statuses, st)
		}
	}
	return out
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondInvalid reports a malformed request in the engine's envelope.
func respondInvalid(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, engine.Result{
		Errors: []*apperr.Error{apperr.Validation(apperr.CodeInvalidInput, "", err.Error())},
	})
}

// respond writes res with okStatus on success, otherwise with the status
// mapped from the first error's kind.
func respond(c *gin.Context, okStatus int, res engine.Result) {
	if res.Success {
		c.JSON(okStatus, res)
		return
	}
	status := http.StatusInternalServerError
	if e := res.FirstError(); e != nil {
		status = apperr.HTTPStatus(e.Kind)
	}
	c.JSON(status, res)
}

// --- System ---

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not enabled")
		return
	}
	snap := s.Metrics.GetSnapshot()
	out := gin.H{"engine": snap}
	if s.Hub != nil {
		out["stream_dropped"] = s.Hub.Dropped()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPrices(c *gin.Context) {
	respond(c, http.StatusOK, s.Engine.GetPrices(c.Request.Context()))
}

func (s *Server) getPrice(c *gin.Context) {
	respond(c, http.StatusOK, s.Engine.GetPrice(c.Request.Context(), c.Param("symbol")))
}

// --- Portfolios ---

func (s *Server) createPortfolio(c *gin.Context) {
	var req createPortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	res := s.Engine.CreatePortfolio(c.Request.Context(), CurrentUserID(c), req.Name, req.InitialCapital)
	respond(c, http.StatusCreated, res)
}

func (s *Server) listPortfolios(c *gin.Context) {
	respond(c, http.StatusOK, s.Engine.ListPortfolios(c.Request.Context(), CurrentUserID(c)))
}

func (s *Server) getPortfolio(c *gin.Context) {
	respond(c, http.StatusOK, s.Engine.GetPortfolioSummary(c.Request.Context(), CurrentUserID(c), c.Param("id")))
}

// --- Orders ---

func (s *Server) placeOrder(c *gin.Context) {
	var req order.PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	req.PortfolioID = c.Param("id")
	// Accepted, not executed: fills arrive on the stream or by polling.
	respond(c, http.StatusAccepted, s.Engine.PlaceOrder(c.Request.Context(), CurrentUserID(c), req))
}

func (s *Server) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondInvalid(c, err)
		return
	}
	res := s.Engine.GetOrders(c.Request.Context(), CurrentUserID(c), c.Param("id"), q.normalize())
	respond(c, http.StatusOK, res)
}

func (s *Server) modifyOrder(c *gin.Context) {
	var patch order.ModifyRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondInvalid(c, err)
		return
	}
	respond(c, http.StatusOK, s.Engine.ModifyOrder(c.Request.Context(), CurrentUserID(c), c.Param("id"), patch))
}

func (s *Server) cancelOrder(c *gin.Context) {
	respond(c, http.StatusOK, s.Engine.CancelOrder(c.Request.Context(), CurrentUserID(c), c.Param("id")))
}

// --- Positions & trades ---

func (s *Server) listPositions(c *gin.Context) {
	includeClosed, _ := strconv.ParseBool(c.DefaultQuery("include_closed", "false"))
	res := s.Engine.GetPositions(c.Request.Context(), CurrentUserID(c), c.Param("id"), includeClosed)
	respond(c, http.StatusOK, res)
}

func (s *Server) listTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	res := s.Engine.GetTrades(c.Request.Context(), CurrentUserID(c), c.Param("id"), c.Query("order_id"), limit)
	respond(c, http.StatusOK, res)
}

func (s *Server) closePosition(c *gin.Context) {
	respond(c, http.StatusOK, s.Engine.ClosePosition(c.Request.Context(), CurrentUserID(c), c.Param("id")))
}

func (s *Server) setStopLoss(c *gin.Context) {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	respond(c, http.StatusOK, s.Engine.SetStopLoss(c.Request.Context(), CurrentUserID(c), c.Param("id"), *req.Price))
}

func (s *Server) setTakeProfit(c *gin.Context) {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	respond(c, http.StatusOK, s.Engine.SetTakeProfit(c.Request.Context(), CurrentUserID(c), c.Param("id"), *req.Price))
}
