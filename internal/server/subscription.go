package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
)

type subscriptionResponse struct {
	Subscription   *subscriptiondomain.UserSubscription `json:"subscription"`
	Tier           *subscriptiondomain.Tier             `json:"tier"`
	AvailableTiers []subscriptiondomain.Tier            `json:"available_tiers"`
}

func (s *Server) ListTiers(c *gin.Context) {
	tiers, err := s.subscriptions.ListTiers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tiers})
}

// GetSubscription reports the Free tier for users without an active
// subscription.
func (s *Server) GetSubscription(c *gin.Context) {
	ctx := c.Request.Context()

	sub, err := s.subscriptions.GetActiveSubscription(ctx, userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var tier *subscriptiondomain.Tier
	if sub != nil {
		tier, err = s.subscriptions.GetTier(ctx, sub.TierID)
	} else {
		tier, err = s.subscriptions.GetTierByCode(ctx, subscriptiondomain.FreeTierCode)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tiers, err := s.subscriptions.ListTiers(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscriptionResponse{
		Subscription:   sub,
		Tier:           tier,
		AvailableTiers: tiers,
	})
}

func (s *Server) Subscribe(c *gin.Context) {
	var req paymentdomain.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = userIDFrom(c)
	req.Email = strings.TrimSpace(c.GetHeader(HeaderUserEmail))

	result, err := s.checkout.Subscribe(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	sub, err := s.checkout.Cancel(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func (s *Server) CreateSetupIntent(c *gin.Context) {
	email := strings.TrimSpace(c.GetHeader(HeaderUserEmail))
	intent, err := s.checkout.CreateSetupIntent(c.Request.Context(), userIDFrom(c), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	methods, err := s.checkout.ListPaymentMethods(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": methods})
}
