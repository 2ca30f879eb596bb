package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/streams"
)

const defaultActivityLimit = 50

// listParams are the query parameters of a listing that are not filters.
var listParams = map[string]bool{"order": true, "limit": true, "offset": true}

type partnerInput struct {
	Name        *string `json:"name"`
	IsManaged   *bool   `json:"is_managed"`
	IsCustomer  *bool   `json:"is_customer"`
	IsSupplier  *bool   `json:"is_supplier"`
	LeadStatus  *string `json:"lead_status"`
	VATNumber   *string `json:"vat_number"`
	Currency    *string `json:"currency"`
	Language    *string `json:"language"`
	Timezone    *string `json:"timezone"`
	URL         *string `json:"url"`
	Email       *string `json:"email"`
	Description *string `json:"description"`
	AssigneeID  *uint   `json:"assignee_id"`
}

// apply sets every field present in the input through p's setters.
func (in partnerInput) apply(p *partners.Partner) {
	if in.Name != nil {
		p.SetName(*in.Name)
	}
	if in.IsManaged != nil {
		p.SetIsManaged(*in.IsManaged)
	}
	if in.IsCustomer != nil {
		p.SetIsCustomer(*in.IsCustomer)
	}
	if in.IsSupplier != nil {
		p.SetIsSupplier(*in.IsSupplier)
	}
	if in.LeadStatus != nil {
		p.SetLeadStatus(*in.LeadStatus)
	}
	if in.VATNumber != nil {
		p.SetVATNumber(in.VATNumber)
	}
	if in.Currency != nil {
		p.SetCurrency(*in.Currency)
	}
	if in.Language != nil {
		p.SetLanguage(*in.Language)
	}
	if in.Timezone != nil {
		p.SetTimezone(*in.Timezone)
	}
	if in.URL != nil {
		p.SetURL(*in.URL)
	}
	if in.Email != nil {
		p.SetEmail(*in.Email)
	}
	if in.Description != nil {
		p.SetDescription(*in.Description)
	}
	if in.AssigneeID != nil {
		p.SetAssigneeID(in.AssigneeID)
	}
}

func partnerRoutes(s *Server, g *echo.Group) {
	g.GET("", s.listPartners)
	g.POST("", s.createPartner, requireUser)
	g.GET("/:id", s.getPartner)
	g.PUT("/:id", s.updatePartner)
	g.DELETE("/:id", s.deletePartner)
	g.GET("/:id/activities", s.partnerActivities)
	g.GET("/:id/jobs", s.partnerJobs)
	g.POST("/:id/jobs", s.addJob)
	g.DELETE("/:id/jobs/:job", s.removeJob)
}

// readableFilter is filterFromQuery limited to the rows of model the user
// holds perm on.
func (s *Server) readableFilter(c echo.Context, perm string, model any) (partners.Filter, error) {
	f, err := filterFromQuery(c)
	if err != nil {
		return f, err
	}
	granted, err := s.perms.Granted(c.Request().Context(), currentUser(c), perm, model)
	if err != nil {
		return f, err
	}
	f.Scopes = append(f.Scopes, granted)
	return f, nil
}

func filterFromQuery(c echo.Context) (partners.Filter, error) {
	f := partners.Filter{Values: map[string]string{}, OrderBy: c.QueryParam("order")}
	for name, values := range c.QueryParams() {
		if listParams[name] || len(values) == 0 {
			continue
		}
		f.Values[name] = values[0]
	}
	var err error
	if raw := c.QueryParam("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil || f.Limit < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if f.Offset, err = strconv.Atoi(raw); err != nil || f.Offset < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
	}
	return f, nil
}

// listPartners only returns the partners the user may read.
func (s *Server) listPartners(c echo.Context) error {
	f, err := s.readableFilter(c, "partners.read_partner", &partners.Partner{})
	if err != nil {
		return err
	}
	list, err := s.store.ListPartners(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// createPartner stores a partner and grants its creator every capability
// on it.
func (s *Server) createPartner(c echo.Context) error {
	var in partnerInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if in.Name == nil || *in.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	p := &partners.Partner{}
	in.apply(p)

	err := s.createOwned(c, p, func(ctx context.Context, store *partners.Store) error {
		return store.CreatePartner(ctx, p)
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

// loadPartner fetches the partner named by the id parameter and checks perm
// on it.
func (s *Server) loadPartner(c echo.Context, perm string) (*partners.Partner, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPartner(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c.Request().Context(), c, perm, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Server) getPartner(c echo.Context) error {
	p, err := s.loadPartner(c, "partners.read_partner")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) updatePartner(c echo.Context) error {
	p, err := s.loadPartner(c, "partners.write_partner")
	if err != nil {
		return err
	}
	var in partnerInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	in.apply(p)
	if err := s.store.SavePartner(c.Request().Context(), p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) deletePartner(c echo.Context) error {
	p, err := s.loadPartner(c, "partners.delete_partner")
	if err != nil {
		return err
	}
	if err := s.store.DeletePartner(c.Request().Context(), p.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) partnerActivities(c echo.Context) error {
	p, err := s.loadPartner(c, "partners.read_partner")
	if err != nil {
		return err
	}
	limit := defaultActivityLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	ctx := c.Request().Context()
	stream, err := streams.Of(ctx, s.db, p)
	if err != nil {
		return err
	}
	activities, err := streams.Activities(ctx, s.db, stream, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, activities)
}
