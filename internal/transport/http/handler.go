package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/freshplate/wallet-service/internal/apperr"
	"github.com/freshplate/wallet-service/internal/service"
)

// RegisterHandlers mounts the wallet endpoints under the
// admin-authenticated prefix.
func RegisterHandlers(r *gin.Engine, svc *service.WalletService, jwtSecret string, log *zap.SugaredLogger) {
	admin := r.Group("/admin/wallet")
	admin.Use(AdminAuthMiddleware(jwtSecret))
	{
		admin.GET("/summary", summaryHandler(svc, log))
		admin.POST("/credits", creditHandler(svc, log))
		admin.GET("/transactions", transactionsHandler(svc, log))
	}
}

func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

func respondError(c *gin.Context, log *zap.SugaredLogger, err error) {
	var ve *apperr.ValidationError
	var nfe *apperr.NotFoundError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": ve.Error()})
	case errors.As(err, &nfe):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": nfe.Error()})
	default:
		log.Errorw("wallet request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal server error"})
	}
}

func summaryHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := svc.Summary(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		respondSuccess(c, sum)
	}
}

type creditReq struct {
	UserID json.Number `json:"userId"`
	Amount float64     `json:"amount"`
	Note   string      `json:"note"`
}

func creditHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req creditReq
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, log, apperr.Validationf("invalid request body"))
			return
		}
		userID, err := strconv.ParseUint(req.UserID.String(), 10, 64)
		if err != nil {
			respondError(c, log, apperr.Validationf("invalid user id"))
			return
		}
		res, err := svc.IssueCredit(c.Request.Context(), userID, req.Amount, req.Note, actorFromContext(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		respondSuccess(c, res)
	}
}

func transactionsHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q service.ListQuery

		if v := c.Query("userId"); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				respondError(c, log, apperr.Validationf("invalid userId"))
				return
			}
			q.UserID = &id
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				respondError(c, log, apperr.Validationf("invalid limit"))
				return
			}
			q.Limit = n
		}
		if v := c.Query("cursor"); v != "" {
			cur, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				respondError(c, log, apperr.Validationf("invalid cursor"))
				return
			}
			q.Cursor = &cur
		}

		page, err := svc.ListTransactions(c.Request.Context(), q)
		if err != nil {
			respondError(c, log, err)
			return
		}
		respondSuccess(c, page)
	}
}
