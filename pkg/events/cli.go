package events

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/consumer"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Provides the events runner",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run events server",
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					notifyQueue, err := redis_client.QueueConnection.OpenQueue("notify-queue")
					if err != nil {
						log.Fatal().Err(err).Msg("Failed to open notify queue")
					}

					redisConsumer := consumer.RedisConsumer{
						QueueName:       "events-queue",
						NumberConsumers: 5,
						BatchSize:       20,
						Timeout:         2 * time.Second,
						Consumer:        NewEventsBatchConsumer(notifyQueue),
					}
					redisConsumer.Setup()

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					return nil
				},
			},
			{
				Name:  "test-event",
				Usage: "generate a test event",
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					event := sbdf.Event{
						Type:      sbdf.EventTypeDelay,
						Timestamp: time.Now(),

						BusIdentifier:  "SCHOOLRUN:BUS:TEST",
						StopIdentifier: "SCHOOLRUN:STOP:TEST",

						DelayMins: 7,
					}

					eventsQueue, err := redis_client.QueueConnection.OpenQueue("events-queue")
					if err != nil {
						log.Fatal().Err(err).Msg("Failed to open event queue")
					}

					eventBytes, _ := json.Marshal(event)

					eventsQueue.PublishBytes(eventBytes)

					pretty.Println(event)

					return nil
				},
			},
		},
	}
}
