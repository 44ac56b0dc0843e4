package http

import (
	"go.uber.org/zap"

	"github.com/snaphub-notify/internal/application/notification"
	jwtinfra "github.com/snaphub-notify/internal/infrastructure/jwt"
	"github.com/snaphub-notify/internal/transport/http/handler"
)

// Deps holds everything the router wires into handlers.
type Deps struct {
	Notifications notification.Service
	JWTProvider   *jwtinfra.Provider
	Logger        *zap.Logger
	// Ready backs /v1/health-check/ready; nil reports always ready.
	Ready handler.ReadyCheck
}
