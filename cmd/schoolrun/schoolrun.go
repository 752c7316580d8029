package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/api"
	"github.com/schoolrun/schoolrun/pkg/events"
	"github.com/schoolrun/schoolrun/pkg/notify"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	if os.Getenv("SCHOOLRUN_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("SCHOOLRUN_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "schoolrun",
		Description: "Single binary of truth for schoolrun - runs all the services",

		Commands: []*cli.Command{
			api.RegisterCLI(),
			events.RegisterCLI(),
			notify.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
