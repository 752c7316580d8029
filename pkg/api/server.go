package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/schoolrun/schoolrun/pkg/api/routes"
	"github.com/schoolrun/schoolrun/pkg/directory"
	"github.com/schoolrun/schoolrun/pkg/realtime/bustracker"
	"github.com/schoolrun/schoolrun/pkg/realtime/dispatcher"
	"github.com/schoolrun/schoolrun/pkg/realtime/registry"
)

// Server wires the tracking core behind the web surface. Every piece is
// constructed at process start and injected here, torn down at shutdown.
type Server struct {
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Tracker    *bustracker.Tracker
	Lookup     directory.Lookup
}

func (s *Server) SetupServer(listen string) error {
	webApp := fiber.New()
	webApp.Use(NewLogger())

	group := webApp.Group("/core")

	group.Get("version", routes.APIVersion)

	trackingGroup := group.Group("/tracking", EnsureValidToken())
	routes.TrackingRouter(trackingGroup, s.Tracker, s.Lookup)

	socketHandler := &SocketHandler{
		Registry:   s.Registry,
		Dispatcher: s.Dispatcher,
		Tracker:    s.Tracker,
		Lookup:     s.Lookup,
	}

	group.Use("/socket", EnsureValidToken(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}

		return fiber.ErrUpgradeRequired
	})
	group.Get("/socket", websocket.New(socketHandler.Handle))

	return webApp.Listen(listen)
}
