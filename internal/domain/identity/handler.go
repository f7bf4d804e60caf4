package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrledger/internal/platform/apperr"
	"github.com/ehr/ehrledger/internal/platform/auth"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/identities/:address", h.ResolveRole)
	api.GET("/practitioners/:address", h.GetPractitioner)
	api.GET("/insurers/:address", h.GetInsurer)
	api.GET("/insurers/:address/status", h.GetInsurerStatus)
	api.POST("/login", h.Login, auth.RequireCaller())
}

func (h *Handler) ResolveRole(c echo.Context) error {
	id, err := h.registry.ResolveRole(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, id)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	p, err := h.registry.Practitioner(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetInsurer(c echo.Context) error {
	ins, err := h.registry.Insurer(c.Request().Context(), c.Param("address"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ins)
}

func (h *Handler) GetInsurerStatus(c echo.Context) error {
	addr := c.Param("address")
	status, err := h.registry.CredentialStatus(c.Request().Context(), RoleInsurer, addr)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"address": addr,
		"status":  string(status),
	})
}

type loginRequest struct {
	Role string `json:"role"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return apperr.HTTPError(err)
	}
	ctx := c.Request().Context()
	id, err := h.registry.Login(ctx, auth.CallerFromContext(ctx), role)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, id)
}
