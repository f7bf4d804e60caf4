package credentialing

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrledger/internal/domain/identity"
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
	api.GET("/credentials/:role/pending", h.ListPending)

	// The caller registers its own address.
	write := api.Group("/credentials", auth.RequireCaller())
	write.POST("/practitioners", h.RequestPractitioner)
	write.POST("/insurers", h.RequestInsurer)
	write.POST("/:role/:address/approve", h.Approve)
}

func (h *Handler) RequestPractitioner(c echo.Context) error {
	return h.request(c, identity.RolePractitioner)
}

func (h *Handler) RequestInsurer(c echo.Context) error {
	return h.request(c, identity.RoleInsurer)
}

func (h *Handler) request(c echo.Context, role identity.Role) error {
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	cred, err := h.svc.RequestCredential(ctx, role, auth.CallerFromContext(ctx), p)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cred)
}

func (h *Handler) Approve(c echo.Context) error {
	role, err := identity.ParseCredentialRole(c.Param("role"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	ctx := c.Request().Context()
	cred, err := h.svc.ApproveCredential(ctx, auth.CallerFromContext(ctx), role, c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) ListPending(c echo.Context) error {
	role, err := identity.ParseCredentialRole(c.Param("role"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	items, err := h.svc.ListPending(c.Request().Context(), role)
	if err != nil {
		return apperr.HTTPError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Page(items, pg).WithLinks(c.Request().URL))
}
