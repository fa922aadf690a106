package fhirdoc

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medanchor/medanchor/internal/platform/apperr"
	"github.com/medanchor/medanchor/internal/platform/auth"
	"github.com/medanchor/medanchor/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	g := fhirGroup.Group("", auth.RequireRole("practitioner", "admin"))

	g.GET("/claim/:procedureID", h.GenerateClaim)
	g.GET("/patient/:patientHash", h.GeneratePatient)
	g.GET("/patient/:patientHash/bundle", h.PatientBundle)
	g.GET("/practitioner/:id", h.GeneratePractitioner)
	g.GET("/coverage/:patientHash", h.GenerateCoverage)
	g.GET("/resources", h.ListResources)
	g.GET("/resources/:resourceID", h.GetResource)
	g.POST("/validate", h.Validate)
	g.GET("/stats", h.Stats)
}

func (h *Handler) GenerateClaim(c echo.Context) error {
	procID, err := uuid.Parse(c.Param("procedureID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid procedure id")
	}
	claim, err := h.svc.GenerateClaim(c.Request().Context(), procID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) GeneratePatient(c echo.Context) error {
	resource, err := h.svc.GeneratePatient(c.Request().Context(), c.Param("patientHash"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, resource)
}

func (h *Handler) GeneratePractitioner(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner id")
	}
	resource, err := h.svc.GeneratePractitioner(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, resource)
}

func (h *Handler) GenerateCoverage(c echo.Context) error {
	resource, err := h.svc.GenerateCoverage(c.Request().Context(), c.Param("patientHash"), nil)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, resource)
}

func (h *Handler) PatientBundle(c echo.Context) error {
	bundle, err := h.svc.PatientBundle(c.Request().Context(), c.Param("patientHash"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) ListResources(c echo.Context) error {
	pg := pagination.FromContext(c)
	docs, total, err := h.svc.ListResources(c.Request().Context(), c.QueryParam("resource_type"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if docs == nil {
		docs = []*GeneratedDocument{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetResource(c echo.Context) error {
	doc, err := h.svc.GetResource(c.Request().Context(), c.Param("resourceID"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) Validate(c echo.Context) error {
	var claim map[string]interface{}
	if err := c.Bind(&claim); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Validate(claim))
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
