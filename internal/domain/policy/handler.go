package policy

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/auth"
	"github.com/ehr/ehrledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:address/insurance", h.ListBindings)
	api.GET("/patients/:address/coverage", h.ListCoverage)
	api.GET("/patients/:address/policy-requests", h.ListRequestsByPatient)
	api.GET("/insurers/:address/policy-requests/pending", h.ListPendingForInsurer)

	api.POST("/patients/:address/insurance", h.BindInsurance, auth.RequireCaller())

	write := api.Group("/policy-requests", auth.RequireCaller())
	write.POST("", h.RequestPolicy)
	write.POST("/:id/approve", h.ApproveRequest)
	write.POST("/:id/reject", h.RejectRequest)
}

// BindInsurance attaches a policy to the patient in the path. The caller
// must be an approved practitioner.
func (h *Handler) BindInsurance(c echo.Context) error {
	var terms Terms
	if err := c.Bind(&terms); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	b, err := h.svc.BindInsuranceDirect(ctx, auth.CallerFromContext(ctx), c.Param("address"), terms)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

type requestPolicyBody struct {
	InsurerAddress string `json:"insurer_address"`
	Terms
}

// RequestPolicy files a request from the caller, as patient, to an insurer.
func (h *Handler) RequestPolicy(c echo.Context) error {
	var body requestPolicyBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	r, err := h.svc.RequestPolicy(ctx, auth.CallerFromContext(ctx), body.InsurerAddress, body.Terms)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ApproveRequest(c echo.Context) error {
	return h.decide(c, DecisionApproved)
}

func (h *Handler) RejectRequest(c echo.Context) error {
	return h.decide(c, DecisionRejected)
}

func (h *Handler) decide(c echo.Context, d Decision) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	r, err := h.svc.DecidePolicyRequest(ctx, auth.CallerFromContext(ctx), id, d)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListBindings(c echo.Context) error {
	items, err := h.svc.ListBindings(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)).WithLinks(c.Request().URL))
}

func (h *Handler) ListCoverage(c echo.Context) error {
	items, err := h.svc.ListCoverage(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)).WithLinks(c.Request().URL))
}

func (h *Handler) ListRequestsByPatient(c echo.Context) error {
	items, err := h.svc.ListRequestsByPatient(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)).WithLinks(c.Request().URL))
}

func (h *Handler) ListPendingForInsurer(c echo.Context) error {
	items, err := h.svc.ListPendingForInsurer(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)).WithLinks(c.Request().URL))
}
