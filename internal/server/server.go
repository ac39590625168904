package server

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/basketly/engage/internal/handlers"
)

// Validator adapts go-playground validation to echo's binding hook.
type Validator struct {
	validate *validator.Validate
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(
	addr string,
	pingHandler *handlers.PingHandler,
	webhookHandler *handlers.WebhookHandler,
	sendHandler *handlers.SendHandler,
	conversationsHandler *handlers.ConversationsHandler,
	profilesHandler *handlers.ProfilesHandler,
	notificationsHandler *handlers.NotificationsHandler,
	assistantsHandler *handlers.AssistantsHandler,
) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &Validator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLogger())

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}
	if sendHandler != nil {
		sendHandler.Register(e)
	}
	if conversationsHandler != nil {
		conversationsHandler.Register(e)
	}
	if profilesHandler != nil {
		profilesHandler.Register(e)
	}
	if notificationsHandler != nil {
		notificationsHandler.Register(e)
	}
	if assistantsHandler != nil {
		assistantsHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
