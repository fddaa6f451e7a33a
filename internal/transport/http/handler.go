package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type handler struct {
	svc Services
	log *zap.SugaredLogger
}

func (h *handler) registerUser(g *gin.RouterGroup) {
	g.GET("/wallet", h.getWallet)
	g.GET("/wallet/history", h.history)

	g.POST("/deposits", h.requestDeposit)
	g.GET("/deposits/:id", h.getDeposit)
	g.POST("/withdrawals", h.requestWithdrawal)
	g.GET("/withdrawals/:id", h.getWithdrawal)
	g.POST("/withdrawals/:id/cancel", h.cancelWithdrawal)

	g.GET("/tournaments", h.listTournaments)
	g.GET("/tournaments/:id", h.getTournament)
	g.POST("/tournaments/:id/join", h.join)
	g.GET("/tournaments/:id/leaderboard", h.leaderboard)
	g.POST("/entries/:id/predictions", h.submitPrediction)
	g.GET("/entries/:id/predictions", h.listPredictions)
}

func userID(c *gin.Context) string  { return c.GetString(ctxUserID) }
func adminID(c *gin.Context) string { return c.GetString(ctxAdminID) }

func parseAmount(c *gin.Context, s string) (decimal.Decimal, bool) {
	amt, err := decimal.NewFromString(s)
	if err != nil {
		badRequest(c, "invalid amount")
		return decimal.Zero, false
	}
	return amt, true
}

type walletView struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Balance        string     `json:"balance"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	TotalDeposited string     `json:"total_deposited"`
	TotalWithdrawn string     `json:"total_withdrawn"`
	TotalWon       string     `json:"total_won"`
	TotalSpent     string     `json:"total_spent"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

func viewWallet(w *model.Wallet) walletView {
	return walletView{
		ID:             w.ID,
		UserID:         w.UserID,
		Balance:        w.Balance.StringFixed(2),
		Currency:       w.Currency,
		Status:         string(w.Status),
		TotalDeposited: w.TotalDeposited.StringFixed(2),
		TotalWithdrawn: w.TotalWithdrawn.StringFixed(2),
		TotalWon:       w.TotalWon.StringFixed(2),
		TotalSpent:     w.TotalSpent.StringFixed(2),
		LastActivityAt: w.LastActivityAt,
	}
}

func (h *handler) getWallet(c *gin.Context) {
	w, err := h.svc.Wallet.EnsureWallet(c, userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWallet(w))
}

func (h *handler) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
	since, err := time.Parse(time.RFC3339, sinceStr)
	if err != nil {
		badRequest(c, "invalid since")
		return
	}
	entries, err := h.svc.Wallet.GetHistory(c, userID(c), limit, since)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type depositReq struct {
	Amount         string              `json:"amount" binding:"required"`
	Method         model.PaymentMethod `json:"method" binding:"required"`
	ProofReference string              `json:"proof_reference"`
}

func (h *handler) requestDeposit(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amt, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	d, err := h.svc.Funding.RequestDeposit(c, userID(c), amt, req.Method, req.ProofReference)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *handler) getDeposit(c *gin.Context) {
	d, err := h.svc.Funding.GetDeposit(c, c.Param("id"))
	if err == nil && d.UserID != userID(c) {
		err = service.ErrNotFound
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type withdrawReq struct {
	Amount      string              `json:"amount" binding:"required"`
	Method      model.PaymentMethod `json:"method" binding:"required"`
	Destination string              `json:"destination" binding:"required"`
}

func (h *handler) requestWithdrawal(c *gin.Context) {
	var req withdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amt, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	w, err := h.svc.Funding.RequestWithdrawal(c, userID(c), amt, req.Method, req.Destination)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *handler) ownWithdrawal(c *gin.Context) (*model.WithdrawalRequest, bool) {
	w, err := h.svc.Funding.GetWithdrawal(c, c.Param("id"))
	if err == nil && w.UserID != userID(c) {
		err = service.ErrNotFound
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return w, true
}

func (h *handler) getWithdrawal(c *gin.Context) {
	if w, ok := h.ownWithdrawal(c); ok {
		c.JSON(http.StatusOK, w)
	}
}

type reasonReq struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *handler) cancelWithdrawal(c *gin.Context) {
	var req reasonReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if _, ok := h.ownWithdrawal(c); !ok {
		return
	}
	w, err := h.svc.Funding.CancelWithdrawal(c, c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *handler) listTournaments(c *gin.Context) {
	var statuses []model.TournamentStatus
	if s := c.Query("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			statuses = append(statuses, model.TournamentStatus(strings.ToUpper(strings.TrimSpace(part))))
		}
	}
	ts, err := h.svc.Tournament.ListByStatus(c, statuses...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *handler) getTournament(c *gin.Context) {
	t, err := h.svc.Tournament.GetTournament(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handler) join(c *gin.Context) {
	e, err := h.svc.Tournament.JoinTournament(c, userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *handler) leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.svc.Tournament.GetLeaderboard(c, c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type predictionReq struct {
	Sequence           int                  `json:"sequence" binding:"required"`
	Type               model.PredictionType `json:"type" binding:"required"`
	Odds               string               `json:"odds" binding:"required"`
	Confidence         int                  `json:"confidence" binding:"required"`
	SourcePredictionID string               `json:"source_prediction_id"`
	Match              model.MatchSnapshot  `json:"match"`
}

func (h *handler) submitPrediction(c *gin.Context) {
	var req predictionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	odds, err := decimal.NewFromString(req.Odds)
	if err != nil {
		badRequest(c, "invalid odds")
		return
	}
	p, err := h.svc.Tournament.SubmitPrediction(c, userID(c), c.Param("id"), req.Sequence, service.PredictionInput{
		SourcePredictionID: req.SourcePredictionID,
		Type:               req.Type,
		Odds:               odds,
		Confidence:         req.Confidence,
		Match:              req.Match,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *handler) listPredictions(c *gin.Context) {
	preds, err := h.svc.Tournament.ListPredictions(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	uid := userID(c)
	out := preds[:0]
	for _, p := range preds {
		if p.UserID == uid {
			out = append(out, p)
		}
	}
	c.JSON(http.StatusOK, out)
}
