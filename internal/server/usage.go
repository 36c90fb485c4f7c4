package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditmeter/internal/credit"
	"github.com/smallbiznis/creditmeter/internal/quota"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
)

type authorizeRequest struct {
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens and StorageBytes override the estimate derived from
	// the prompt size when set.
	OutputTokens *int64 `json:"output_tokens"`
	StorageBytes int64  `json:"storage_bytes"`
}

type recordUsageRequest struct {
	ChatID         string         `json:"chat_id"`
	MessageID      string         `json:"message_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	StorageBytes   int64          `json:"storage_bytes"`
	Metadata       map[string]any `json:"metadata"`
	// Delivered marks usage whose result already reached the user.
	Delivered bool `json:"delivered"`
}

// Authorize answers 200 with the decision when the action may start and
// 402 when it would exceed the quota.
func (s *Server) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	userID := userIDFrom(c)

	var (
		decision quota.Decision
		err      error
	)
	if req.OutputTokens == nil && req.StorageBytes == 0 {
		decision, err = s.metering.AuthorizeInput(ctx, userID, req.InputTokens)
	} else {
		estimate := credit.Sample{InputTokens: req.InputTokens, StorageBytes: req.StorageBytes}
		if req.OutputTokens != nil {
			estimate.OutputTokens = *req.OutputTokens
		}
		decision, err = s.metering.Authorize(ctx, userID, estimate)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		AbortWithError(c, decision.Err())
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	record := usagedomain.RecordUsageRequest{
		UserID:         userIDFrom(c),
		ChatID:         req.ChatID,
		MessageID:      req.MessageID,
		IdempotencyKey: key,
		Sample: credit.Sample{
			InputTokens:  req.InputTokens,
			OutputTokens: req.OutputTokens,
			StorageBytes: req.StorageBytes,
		},
		Metadata: req.Metadata,
	}

	if req.Delivered {
		s.metering.RecordDeliveredUsage(c.Request.Context(), record)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	result, err := s.metering.RecordUsage(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetCurrentUsage(c *gin.Context) {
	current, err := s.metering.GetCurrentUsage(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

func (s *Server) GetMonthlyUsage(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		AbortWithError(c, newValidationError("year", "invalid_period", "year must be a number"))
		return
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		AbortWithError(c, newValidationError("month", "invalid_period", "month must be a number"))
		return
	}

	summary, err := s.metering.GetMonthlyUsage(c.Request.Context(), userIDFrom(c), year, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetUserUsage(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	current, err := s.usage.GetCurrentUsage(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

// GetUsageSummary defaults to the running month.
func (s *Server) GetUsageSummary(c *gin.Context) {
	now := s.clock.Now().UTC()
	year, month := now.Year(), int(now.Month())

	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("year", "invalid_period", "year must be a number"))
			return
		}
		year = v
	}
	if raw := strings.TrimSpace(c.Query("month")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("month", "invalid_period", "month must be a number"))
			return
		}
		month = v
	}

	summary, err := s.usage.SummarizePeriod(c.Request.Context(), year, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
