package collection

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/medrec/internal/domain/record"
	"github.com/medrec/medrec/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/collections")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Replace)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/records", h.ListRecords)
	g.PUT("/:id/records/:record_id", h.AddRecord)
	g.DELETE("/:id/records/:record_id", h.RemoveRecord)
}

func parseUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "collection not found")
	case errors.Is(err, ErrRecordNotInCollection):
		return echo.NewHTTPError(http.StatusNotFound, ErrRecordNotInCollection.Error())
	case errors.Is(err, record.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrOwnerMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Create(c echo.Context) error {
	var col Collection
	if err := c.Bind(&col); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &col); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, col)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	col, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, col)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Replace overwrites name and description; an omitted description is cleared.
func (h *Handler) Replace(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	desc := ""
	if body.Description != nil {
		desc = *body.Description
	}
	col, err := h.svc.Update(c.Request().Context(), id, Patch{Name: &body.Name, Description: &desc})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, col)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	col, err := h.svc.Update(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, col)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListRecords(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Records(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddRecord(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := parseUUID(c, "record_id")
	if err != nil {
		return err
	}
	r, err := h.svc.AddRecord(c.Request().Context(), id, recordID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) RemoveRecord(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := parseUUID(c, "record_id")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveRecord(c.Request().Context(), id, recordID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
