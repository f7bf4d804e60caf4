package claims

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/auth"
	"github.com/ehr/ehrledger/internal/platform/blobstore"
	"github.com/ehr/ehrledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:address/claims", h.ListClaimsByPatient)

	g := api.Group("/claims", auth.RequireCaller())
	g.GET("", h.ListClaims)
	g.GET("/:id", h.GetClaim)
	g.POST("", h.RaiseClaim)
	g.POST("/:id/approve", h.ApproveClaim)
	g.POST("/:id/decline", h.DeclineClaim)
}

// RaiseClaim accepts multipart/form-data with insurer_address,
// policy_number, reason and an optional "bill" file. The caller is the
// patient.
func (h *Handler) RaiseClaim(c echo.Context) error {
	ff, err := blobstore.OpenFormFile(c, "bill")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := RaiseClaimRequest{
		InsurerAddress: c.FormValue("insurer_address"),
		PolicyNumber:   c.FormValue("policy_number"),
		Reason:         c.FormValue("reason"),
	}
	if ff != nil {
		defer ff.Content.Close()
		req.BillUpload = ff.Upload
		req.Bill = ff.Content
	}

	ctx := c.Request().Context()
	claim, err := h.svc.RaiseClaim(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) ApproveClaim(c echo.Context) error {
	return h.decide(c, OutcomeApproved)
}

func (h *Handler) DeclineClaim(c echo.Context) error {
	return h.decide(c, OutcomeDeclined)
}

func (h *Handler) decide(c echo.Context, outcome Outcome) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	claim, err := h.svc.DecideClaim(ctx, auth.CallerFromContext(ctx), id, outcome)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

// ListClaims lists claims targeting the caller as insurer.
func (h *Handler) ListClaims(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.ListClaims(ctx, auth.CallerFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)).WithLinks(c.Request().URL))
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListClaimsByPatient(c echo.Context) error {
	items, err := h.svc.ListClaimsByPatient(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)).WithLinks(c.Request().URL))
}
