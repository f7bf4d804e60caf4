package records

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
	api.GET("/records/:id", h.GetRecord)
	api.GET("/patients/:address/records", h.ListRecords)

	write := api.Group("/records", auth.RequireCaller())
	write.POST("", h.CreateRecord)
	write.POST("/:id/approve", h.ApproveRecord)
	write.POST("/:id/decline", h.DeclineRecord)
}

// CreateRecord accepts multipart/form-data with fields patient_address,
// file_name, category and the attachment in "file".
func (h *Handler) CreateRecord(c echo.Context) error {
	ff, err := blobstore.OpenFormFile(c, "file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := CreateRecordRequest{
		PatientAddress: c.FormValue("patient_address"),
		FileName:       c.FormValue("file_name"),
		Category:       c.FormValue("category"),
	}
	if ff != nil {
		defer ff.Content.Close()
		req.Upload = ff.Upload
		req.Attachment = ff.Content
	}

	ctx := c.Request().Context()
	rec, err := h.svc.CreateRecord(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ApproveRecord(c echo.Context) error {
	return h.decide(c, VerificationApproved)
}

func (h *Handler) DeclineRecord(c echo.Context) error {
	return h.decide(c, VerificationDeclined)
}

func (h *Handler) decide(c echo.Context, outcome Verification) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rec, err := h.svc.DecideRecord(ctx, auth.CallerFromContext(ctx), id, outcome)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	items, err := h.svc.ListRecords(c.Request().Context(), c.Param("address"), c.QueryParam("category"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Page(items, pg).WithLinks(c.Request().URL))
}
