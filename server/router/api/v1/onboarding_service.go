package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sparkgoals/spark/server/service/onboarding"
	"github.com/sparkgoals/spark/store"
)

type onboardingStatusResponse struct {
	Done            bool    `json:"done"`
	UserName        *string `json:"userName,omitempty"`
	Personalization *string `json:"personalization,omitempty"`
}

type sessionResponse struct {
	UID             string                          `json:"uid"`
	CurrentStep     int32                           `json:"currentStep"`
	StepName        string                          `json:"stepName"`
	StartedTs       int64                           `json:"startedTs"`
	CompletedTs     *int64                          `json:"completedTs,omitempty"`
	IsCompleted     bool                            `json:"isCompleted"`
	Answers         *onboarding.Answers             `json:"answers"`
	MaterializedIDs *onboarding.MaterializedRecords `json:"materializedIds,omitempty"`
}

type advanceRequest struct {
	Step    int32               `json:"step"`
	Answers *onboarding.Answers `json:"answers"`
}

type materializeRequest struct {
	Answers *onboarding.Answers `json:"answers"`
}

func (s *APIV1Service) GetOnboardingStatus(c echo.Context) error {
	ctx := c.Request().Context()
	response := &onboardingStatusResponse{Done: s.Onboarding.IsWorkflowDone(ctx)}
	if name, ok := s.Onboarding.UserName(); ok {
		response.UserName = &name
	}
	if personalization, ok := s.Onboarding.Personalization(); ok {
		response.Personalization = &personalization
	}
	return c.JSON(http.StatusOK, response)
}

// GetLatestSession looks up the most recent incomplete session for an owner
// straight from the session store. Meant for support tooling; the workflow
// itself goes through StartOnboarding.
func (s *APIV1Service) GetLatestSession(c echo.Context) error {
	ctx := c.Request().Context()
	ownerID := c.QueryParam("owner")
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}

	session, err := s.Store.GetLatestIncompleteSession(ctx, ownerID)
	if err != nil {
		slog.Error("failed to look up latest session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up latest session")
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no incomplete session for owner")
	}
	return s.respondSession(c, session)
}

func (s *APIV1Service) StartOnboarding(c echo.Context) error {
	ctx := c.Request().Context()
	session, err := s.Onboarding.StartOrRecover(ctx)
	if err != nil {
		slog.Error("failed to start onboarding session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start onboarding session")
	}
	return s.respondSession(c, session)
}

func (s *APIV1Service) AdvanceOnboarding(c echo.Context) error {
	ctx := c.Request().Context()
	request := &advanceRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed advance request").SetInternal(err)
	}
	if request.Step < 0 || request.Step >= onboarding.StepCount {
		return echo.NewHTTPError(http.StatusBadRequest, "step index out of range")
	}

	session, err := s.Onboarding.Advance(ctx, request.Step, request.Answers)
	if err != nil {
		if errors.Is(err, onboarding.ErrNoActiveSession) {
			return echo.NewHTTPError(http.StatusConflict, "no active onboarding session")
		}
		slog.Error("failed to advance onboarding session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to advance onboarding session")
	}
	return s.respondSession(c, session)
}

func (s *APIV1Service) MaterializeOnboarding(c echo.Context) error {
	ctx := c.Request().Context()
	request := &materializeRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed materialize request").SetInternal(err)
	}

	records, err := s.Onboarding.MaterializeAndDefer(ctx, request.Answers)
	if err != nil {
		switch {
		case errors.Is(err, onboarding.ErrNoActiveSession):
			return echo.NewHTTPError(http.StatusConflict, "no active onboarding session")
		case errors.Is(err, onboarding.ErrMissingAnswers):
			return echo.NewHTTPError(http.StatusBadRequest, "goal, milestone and first task titles are required")
		}
		slog.Error("failed to materialize onboarding records", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to materialize onboarding records")
	}
	return c.JSON(http.StatusOK, records)
}

func (s *APIV1Service) ResetOnboarding(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.Onboarding.Reset(ctx); err != nil {
		slog.Error("failed to reset onboarding", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reset onboarding")
	}
	return c.NoContent(http.StatusNoContent)
}

// PurchaseConfirmed is the entitlement callback that releases the deferred
// finalization. Repeated deliveries are harmless.
func (s *APIV1Service) PurchaseConfirmed(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.Onboarding.OnPurchaseConfirmed(ctx); err != nil {
		slog.Error("failed to finalize onboarding after purchase", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to finalize onboarding")
	}
	return c.JSON(http.StatusOK, &onboardingStatusResponse{Done: true})
}

func (s *APIV1Service) respondSession(c echo.Context, session *store.OnboardingSession) error {
	answers, err := onboarding.DecodeAnswers(session.Answers)
	if err != nil {
		slog.Error("failed to decode session answers", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to decode session answers")
	}
	records, err := onboarding.DecodeMaterializedRecords(session.MaterializedIDs)
	if err != nil {
		slog.Error("failed to decode materialized ids", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to decode materialized ids")
	}
	return c.JSON(http.StatusOK, &sessionResponse{
		UID:             session.UID,
		CurrentStep:     session.CurrentStep,
		StepName:        onboarding.StepLabel(session.CurrentStep),
		StartedTs:       session.StartedTs,
		CompletedTs:     session.CompletedTs,
		IsCompleted:     session.IsCompleted,
		Answers:         answers,
		MaterializedIDs: records,
	})
}
