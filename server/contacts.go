package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anthrotech-dev/partners"
)

type contactInput struct {
	Firstname *string `json:"firstname"`
	Lastname  *string `json:"lastname"`
	Nickname  *string `json:"nickname"`
	Email     *string `json:"email"`
	URL       *string `json:"url"`
	Language  *string `json:"language"`
	Timezone  *string `json:"timezone"`
	UserID    *uint   `json:"user_id"`
}

func (in contactInput) apply(c *partners.Contact) {
	if in.Firstname != nil {
		c.SetFirstname(*in.Firstname)
	}
	if in.Lastname != nil {
		c.SetLastname(*in.Lastname)
	}
	if in.Nickname != nil {
		c.SetNickname(*in.Nickname)
	}
	if in.Email != nil {
		c.SetEmail(*in.Email)
	}
	if in.URL != nil {
		c.SetURL(*in.URL)
	}
	if in.Language != nil {
		c.SetLanguage(*in.Language)
	}
	if in.Timezone != nil {
		c.SetTimezone(*in.Timezone)
	}
	if in.UserID != nil {
		c.SetUserID(in.UserID)
	}
}

func contactRoutes(s *Server, g *echo.Group) {
	g.GET("", s.listContacts, requireUser)
	g.POST("", s.createContact, requireUser)
	g.GET("/:id", s.getContact)
	g.PUT("/:id", s.updateContact)
	g.DELETE("/:id", s.deleteContact)
}

func (s *Server) listContacts(c echo.Context) error {
	f, err := s.readableFilter(c, "partners.read_contact", &partners.Contact{})
	if err != nil {
		return err
	}
	list, err := s.store.ListContacts(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createContact(c echo.Context) error {
	var in contactInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if in.Firstname == nil || in.Lastname == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "firstname and lastname are required")
	}
	contact := &partners.Contact{}
	in.apply(contact)

	err := s.createOwned(c, contact, func(ctx context.Context, store *partners.Store) error {
		return store.CreateContact(ctx, contact)
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, contact)
}

func (s *Server) loadContact(c echo.Context, perm string) (*partners.Contact, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	contact, err := s.store.GetContact(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c.Request().Context(), c, perm, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

func (s *Server) getContact(c echo.Context) error {
	contact, err := s.loadContact(c, "partners.read_contact")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, contact)
}

func (s *Server) updateContact(c echo.Context) error {
	contact, err := s.loadContact(c, "partners.write_contact")
	if err != nil {
		return err
	}
	var in contactInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	in.apply(contact)
	if err := s.store.SaveContact(c.Request().Context(), contact); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, contact)
}

func (s *Server) deleteContact(c echo.Context) error {
	contact, err := s.loadContact(c, "partners.delete_contact")
	if err != nil {
		return err
	}
	if err := s.store.DeleteContact(c.Request().Context(), contact.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type jobInput struct {
	ContactID uint   `json:"contact_id"`
	Role      string `json:"role"`
	Notes     string `json:"notes"`
}

func (s *Server) partnerJobs(c echo.Context) error {
	p, err := s.loadPartner(c, "partners.read_partner")
	if err != nil {
		return err
	}
	jobs, err := s.store.Jobs(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobs)
}

// addJob needs write access to the partner; the contact only has to exist.
func (s *Server) addJob(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := s.loadPartner(c, "partners.write_partner")
	if err != nil {
		return err
	}
	var in jobInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if in.ContactID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "contact_id is required")
	}
	if _, err := s.store.GetContact(ctx, in.ContactID); err != nil {
		return err
	}
	job := &partners.Job{ContactID: in.ContactID, PartnerID: p.ID, Role: in.Role, Notes: in.Notes}
	if err := s.store.AddJob(ctx, job); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

func (s *Server) removeJob(c echo.Context) error {
	p, err := s.loadPartner(c, "partners.write_partner")
	if err != nil {
		return err
	}
	id, err := paramID(c, "job")
	if err != nil {
		return err
	}
	if err := s.store.RemoveJob(c.Request().Context(), p.ID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
