// Package server exposes partners, streams and notifications over HTTP.
// Apps are mounted from a static list; there is no discovery.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/auth"
	"github.com/anthrotech-dev/partners/streams"
)

// UserHeader carries the id of the requesting user. Requests without it
// are anonymous.
const UserHeader = "X-User-ID"

const userKey = "user"

// App is a group of routes mounted under Prefix.
type App struct {
	Prefix string
	Routes func(s *Server, g *echo.Group)
}

// Apps is the full route table.
var Apps = []App{
	{Prefix: "/partners", Routes: partnerRoutes},
	{Prefix: "/contacts", Routes: contactRoutes},
	{Prefix: "/streams", Routes: streamRoutes},
	{Prefix: "/subscriptions", Routes: subscriptionRoutes},
	{Prefix: "/notifications", Routes: notificationRoutes},
}

type Server struct {
	db    *gorm.DB
	store *partners.Store
	users *auth.Users
	perms *auth.Backend
	log   *zap.Logger
}

// New serves db, which must have the partners listeners installed.
func New(db *gorm.DB, users *auth.Users, log *zap.Logger) *Server {
	return &Server{
		db:    db,
		store: partners.NewStore(db),
		users: users,
		perms: auth.NewBackend(db, users),
		log:   log,
	}
}

// Echo builds the HTTP handler with the standard middleware and every app
// in Apps.
func (s *Server) Echo(corsOrigins ...string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(corsOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: corsOrigins}))
	}
	e.Use(s.identify)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, app := range Apps {
		app.Routes(s, e.Group(app.Prefix))
	}
	return e
}

// identify resolves the requesting user from UserHeader.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(UserHeader)
		if raw == "" {
			return next(c)
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid user id")
		}
		user, err := s.users.Get(c.Request().Context(), uint(id))
		if errors.Is(err, auth.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
		} else if err != nil {
			return err
		}
		c.Set(userKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *auth.User {
	user, _ := c.Get(userKey).(*auth.User)
	return user
}

// requireUser rejects anonymous requests to user-scoped routes.
func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !currentUser(c).IsAuthenticated() {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		return next(c)
	}
}

func (s *Server) authorize(ctx context.Context, c echo.Context, perm string, obj any) error {
	ok, err := s.perms.HasPerm(ctx, currentUser(c), perm, obj)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "permission denied")
	}
	return nil
}

// createOwned runs create and grants the current user every capability on
// obj in one transaction, so a record never outlives a failed grant.
func (s *Server) createOwned(c echo.Context, obj any, create func(context.Context, *partners.Store) error) error {
	ctx := c.Request().Context()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := create(ctx, partners.NewStore(tx)); err != nil {
			return err
		}
		return auth.Grant(ctx, tx, currentUser(c), obj, auth.Read, auth.Write, auth.Delete)
	})
}

func (s *Server) errorHandler(err error, c echo.Context) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
	case errors.Is(err, partners.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, streams.ErrNoStream),
		errors.Is(err, streams.ErrNoOwner):
		he = echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		he = echo.NewHTTPError(http.StatusConflict, "already exists")
	default:
		s.log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		he = echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, map[string]any{"error": he.Message})
}

func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}
