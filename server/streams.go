package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/streams"
)

func streamRoutes(s *Server, g *echo.Group) {
	g.Use(requireUser)
	g.POST("/:id/followers", s.follow)
	g.DELETE("/:id/followers", s.unfollow)
}

func subscriptionRoutes(s *Server, g *echo.Group) {
	g.Use(requireUser)
	g.POST("", s.subscribe)
	g.DELETE("/:signature", s.unsubscribe)
}

func notificationRoutes(s *Server, g *echo.Group) {
	g.Use(requireUser)
	g.GET("", s.notifications)
	g.POST("/:id/read", s.markRead)
}

func (s *Server) loadStream(c echo.Context) (*streams.Stream, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	return streams.Get(c.Request().Context(), s.db, id)
}

// streamOwners are the models that own streams.
func streamOwners() []streams.Streamable {
	return []streams.Streamable{&partners.Partner{}}
}

// follow needs read access to the stream's owner.
func (s *Server) follow(c echo.Context) error {
	ctx := c.Request().Context()
	stream, err := s.loadStream(c)
	if err != nil {
		return err
	}
	owner, err := streams.Owner(ctx, s.db, stream, streamOwners()...)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, c, "streams.read_stream", owner); err != nil {
		return err
	}
	if err := streams.Follow(ctx, s.db, stream, currentUser(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unfollow(c echo.Context) error {
	stream, err := s.loadStream(c)
	if err != nil {
		return err
	}
	if err := streams.Unfollow(c.Request().Context(), s.db, stream, currentUser(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type subscriptionInput struct {
	Signature string `json:"signature"`
}

func (s *Server) subscribe(c echo.Context) error {
	var in subscriptionInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if in.Signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "signature is required")
	}
	sub, err := streams.Subscribe(c.Request().Context(), s.db, currentUser(c), in.Signature)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sub)
}

func (s *Server) unsubscribe(c echo.Context) error {
	if err := streams.Unsubscribe(c.Request().Context(), s.db, currentUser(c), c.Param("signature")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) notifications(c echo.Context) error {
	unread := c.QueryParam("unread") == "true"
	list, err := streams.Notifications(c.Request().Context(), s.db, currentUser(c), unread)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) markRead(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := streams.MarkRead(c.Request().Context(), s.db, currentUser(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
