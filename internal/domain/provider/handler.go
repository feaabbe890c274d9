package provider

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxgate/rxgate/internal/domain/catalog"
	"github.com/rxgate/rxgate/internal/platform/auth"
	"github.com/rxgate/rxgate/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/availability", h.FindAvailability)
	api.GET("/providers", h.ListProviders)
	api.GET("/providers/:id", h.GetProvider)
	api.GET("/providers/:id/offers", h.ListOffers)

	// Offer publication is for provider agents; onboarding and verification
	// stay with operators.
	agentGroup := api.Group("", auth.RequireRole(auth.RoleAgent))
	agentGroup.PUT("/providers/:id/offers", h.UpsertOffer)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/providers", h.RegisterProvider)
	adminGroup.PUT("/providers/:id", h.UpdateProvider)
	adminGroup.PUT("/providers/:id/verify", h.SetVerified)
}

func (h *Handler) RegisterProvider(c echo.Context) error {
	var p Provider
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Register(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProvider(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetProvider(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "provider not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProviders(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"name", "kind", "state", "lga", "verified"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	providers, total, err := h.svc.SearchProviders(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(providers, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateProvider(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Provider
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdateProvider(c.Request().Context(), &p); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "provider not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SetVerified(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Verified bool `json:"verified"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetVerified(c.Request().Context(), id, body.Verified); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "provider not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "verified": body.Verified})
}

func (h *Handler) UpsertOffer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var o Offer
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.ProviderID = id
	if err := h.svc.UpsertOffer(c.Request().Context(), &o); err != nil {
		switch {
		case errors.Is(err, ErrProviderNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "provider not found")
		case errors.Is(err, catalog.ErrItemNotFound):
			return echo.NewHTTPError(http.StatusBadRequest, "catalog item not found")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOffers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	offers, err := h.svc.ListOffers(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "provider not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, offers)
}

func (h *Handler) FindAvailability(c echo.Context) error {
	itemID, err := uuid.Parse(c.QueryParam("item"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}

	q := AvailabilityQuery{
		CatalogItemID: itemID,
		Quantity:      1,
		State:         c.QueryParam("state"),
		LGA:           c.QueryParam("lga"),
		Ward:          c.QueryParam("ward"),
		SortBy:        c.QueryParam("sort"),
	}
	if raw := c.QueryParam("qty"); raw != "" {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid qty")
		}
		q.Quantity = qty
	}
	for param, dst := range map[string]**float64{
		"lat": &q.Lat, "lng": &q.Lng, "radius_km": &q.RadiusKm,
	} {
		raw := c.QueryParam(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
		}
		*dst = &v
	}

	offers, err := h.svc.FindAvailability(c.Request().Context(), q)
	if err != nil {
		if errors.Is(err, ErrInvalidCoordinates) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid coordinates")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	RankOffers(offers, q.SortBy)
	if offers == nil {
		offers = []*AvailableOffer{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"offers": offers,
		"count":  len(offers),
	})
}
