// Package v1 exposes the onboarding workflow over a JSON HTTP API.
package v1

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/sparkgoals/spark/internal/profile"
	"github.com/sparkgoals/spark/server/internal/observability"
	"github.com/sparkgoals/spark/server/middleware"
	"github.com/sparkgoals/spark/server/service/onboarding"
	"github.com/sparkgoals/spark/store"
)

type APIV1Service struct {
	Profile    *profile.Profile
	Store      *store.Store
	Onboarding onboarding.Service
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, onboardingService onboarding.Service) *APIV1Service {
	return &APIV1Service{
		Profile:    profile,
		Store:      store,
		Onboarding: onboardingService,
	}
}

// Register mounts all API routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.Use(echomw.CORS())
	echoServer.Use(observability.RequestLogger())

	apiV1 := echoServer.Group("/api/v1")
	apiV1.GET("/onboarding/status", s.GetOnboardingStatus)
	apiV1.GET("/onboarding/session/latest", s.GetLatestSession)
	apiV1.POST("/onboarding/start", s.StartOnboarding)
	apiV1.POST("/onboarding/advance", s.AdvanceOnboarding)
	apiV1.POST("/onboarding/materialize", s.MaterializeOnboarding)
	apiV1.POST("/onboarding/reset", s.ResetOnboarding)

	// External entitlement callbacks land outside the onboarding group so
	// they can grow their own auth scheme later. Repeated deliveries are
	// harmless but still rate limited per caller.
	limiter := middleware.NewRateLimiter(5, 10)
	webhooks := echoServer.Group("/api/v1/webhooks", limiter.Middleware())
	webhooks.POST("/purchase-confirmed", s.PurchaseConfirmed)
}
