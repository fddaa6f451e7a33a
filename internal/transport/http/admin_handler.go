package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/service"
	"github.com/shopspring/decimal"
)

func (h *handler) registerAdmin(g *gin.RouterGroup) {
	g.GET("/deposits/pending", h.pendingDeposits)
	g.POST("/deposits/:id/approve", h.approveDeposit)
	g.POST("/deposits/:id/reject", h.rejectDeposit)

	g.GET("/withdrawals/pending", h.pendingWithdrawals)
	g.POST("/withdrawals/:id/process", h.processWithdrawal)
	g.POST("/withdrawals/:id/complete", h.completeWithdrawal)
	g.POST("/withdrawals/:id/reject", h.rejectWithdrawal)

	g.POST("/wallets/:user/adjust", h.adjust)
	g.POST("/wallets/:user/status", h.setStatus)
	g.GET("/wallets/:user/audit", h.audit)

	g.POST("/tournaments", h.createTournament)
	g.POST("/tournaments/:id/rankings", h.updateRankings)
	g.POST("/tournaments/:id/finalize", h.finalize)
	g.POST("/tournaments/:id/cancel", h.cancelTournament)
	g.GET("/tournaments/:id/integrity", h.integrity)
	g.GET("/tournaments/:id/entries", h.listEntries)
	g.POST("/predictions/:id/result", h.recordResult)
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	return limit
}

func (h *handler) pendingDeposits(c *gin.Context) {
	ds, err := h.svc.Funding.ListPendingDeposits(c, queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

func (h *handler) approveDeposit(c *gin.Context) {
	d, err := h.svc.Funding.ApproveDeposit(c, c.Param("id"), adminID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) rejectDeposit(c *gin.Context) {
	var req reasonReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.svc.Funding.RejectDeposit(c, c.Param("id"), adminID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) pendingWithdrawals(c *gin.Context) {
	ws, err := h.svc.Funding.ListPendingWithdrawals(c, queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *handler) processWithdrawal(c *gin.Context) {
	w, err := h.svc.Funding.ProcessWithdrawal(c, c.Param("id"), adminID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type completeReq struct {
	ExternalTransactionID string `json:"external_transaction_id" binding:"required"`
}

func (h *handler) completeWithdrawal(c *gin.Context) {
	var req completeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	w, err := h.svc.Funding.CompleteWithdrawal(c, c.Param("id"), adminID(c), req.ExternalTransactionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *handler) rejectWithdrawal(c *gin.Context) {
	var req reasonReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	w, err := h.svc.Funding.RejectWithdrawal(c, c.Param("id"), adminID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type adjustReq struct {
	Amount    string          `json:"amount" binding:"required"`
	Direction model.Direction `json:"direction" binding:"required"`
	Reason    string          `json:"reason" binding:"required"`
}

func (h *handler) adjust(c *gin.Context) {
	var req adjustReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amt, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	e, err := h.svc.Wallet.ManualAdjustment(c, c.Param("user"), amt, req.Direction, req.Reason, adminID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

type statusReq struct {
	Status model.WalletStatus `json:"status" binding:"required"`
}

func (h *handler) setStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	w, err := h.svc.Wallet.SetWalletStatus(c, c.Param("user"), req.Status, adminID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWallet(w))
}

func (h *handler) audit(c *gin.Context) {
	w, err := h.svc.Wallet.GetWallet(c, c.Param("user"))
	if err != nil {
		h.fail(c, err)
		return
	}
	rep, err := h.svc.Wallet.AuditWallet(c, w.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

type createTournamentReq struct {
	Name                 string                `json:"name" binding:"required"`
	Type                 model.TournamentType  `json:"type" binding:"required"`
	BuyIn                decimal.Decimal       `json:"buy_in"`
	MaxPlayers           int                   `json:"max_players" binding:"required"`
	RegistrationOpensAt  *time.Time            `json:"registration_opens_at"`
	RegistrationDeadline time.Time             `json:"registration_deadline" binding:"required"`
	StartTime            time.Time             `json:"start_time" binding:"required"`
	EndTime              time.Time             `json:"end_time" binding:"required"`
	RequiredPredictions  int                   `json:"required_predictions" binding:"required"`
	Payouts              model.PayoutStructure `json:"payouts"`
	Rules                model.ScoringRules    `json:"scoring_rules"`
}

func (h *handler) createTournament(c *gin.Context) {
	var req createTournamentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.svc.Tournament.CreateTournament(c, service.NewTournament{
		Name:                 req.Name,
		Type:                 req.Type,
		BuyIn:                req.BuyIn,
		MaxPlayers:           req.MaxPlayers,
		RegistrationOpensAt:  req.RegistrationOpensAt,
		RegistrationDeadline: req.RegistrationDeadline,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		RequiredPredictions:  req.RequiredPredictions,
		Payouts:              req.Payouts,
		Rules:                req.Rules,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *handler) updateRankings(c *gin.Context) {
	rows, err := h.svc.Tournament.UpdateRankings(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) finalize(c *gin.Context) {
	res, err := h.svc.Tournament.FinalizeTournament(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) cancelTournament(c *gin.Context) {
	var req reasonReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	sum, err := h.svc.Tournament.CancelTournament(c, c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handler) integrity(c *gin.Context) {
	fix := c.Query("fix") == "true"
	rep, err := h.svc.Tournament.VerifyPrizePoolIntegrity(c, c.Param("id"), fix)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handler) listEntries(c *gin.Context) {
	es, err := h.svc.Tournament.ListEntries(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, es)
}

type resultReq struct {
	Result     model.PredictionResult `json:"result" binding:"required"`
	ActualOdds *decimal.Decimal       `json:"actual_odds"`
}

func (h *handler) recordResult(c *gin.Context) {
	var req resultReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.svc.Tournament.RecordResult(c, c.Param("id"), req.Result, req.ActualOdds)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
