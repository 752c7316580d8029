package api

import (
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/directory"
	"github.com/schoolrun/schoolrun/pkg/realtime/bustracker"
	"github.com/schoolrun/schoolrun/pkg/realtime/dispatcher"
	"github.com/schoolrun/schoolrun/pkg/realtime/registry"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Provides the live tracking server",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the tracking server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
						Usage: "listen target for the web server",
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					lookup := directory.NewCachedDirectory(directory.NewMongoDirectory())

					connectionRegistry := registry.NewRegistry(lookup)

					eventQueue, err := redis_client.QueueConnection.OpenQueue("events-queue")
					if err != nil {
						log.Fatal().Err(err).Msg("Failed to open event queue")
					}

					eventDispatcher := dispatcher.NewDispatcher(connectionRegistry, eventQueue)

					tracker := bustracker.NewTracker(lookup, eventDispatcher, bustracker.GetTrackerConfig())
					defer tracker.Shutdown()

					server := &Server{
						Registry:   connectionRegistry,
						Dispatcher: eventDispatcher,
						Tracker:    tracker,
						Lookup:     lookup,
					}

					return server.SetupServer(c.String("listen"))
				},
			},
		},
	}
}
