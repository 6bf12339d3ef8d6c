package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/homie-bridge/cmd"
)

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen --config=./gen/config.yaml ./gen/api.yaml

func main() {
	app := &cli.App{
		Name:   "homie-bridge",
		Usage:  "discovers Homie devices over MQTT and serves them as entities",
		Action: cmd.BridgeCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
			},
			&cli.StringFlag{
				Name:    "mqtt-client-id",
				EnvVars: []string{"MQTT_CLIENT_ID"},
				Value:   "homie-bridge",
			},
			&cli.IntFlag{
				Name:    "mqtt-qos",
				EnvVars: []string{"MQTT_QOS"},
				Value:   1,
			},
			&cli.StringFlag{
				Name:    "discovery-prefix",
				EnvVars: []string{"DISCOVERY_PREFIX"},
				Value:   "homie",
			},
			&cli.DurationFlag{
				Name:    "settle-window",
				EnvVars: []string{"SETTLE_WINDOW"},
			},
			&cli.StringFlag{
				Name:    "ha-discovery-prefix",
				EnvVars: []string{"HA_DISCOVERY_PREFIX"},
				Usage:   "announce entities to Home Assistant under this prefix",
			},
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
				Usage:   "record property history in postgres",
			},
			&cli.DurationFlag{
				Name:    "history-retention",
				EnvVars: []string{"HISTORY_RETENTION"},
			},
			&cli.StringFlag{
				Name:    "cleanup-schedule",
				EnvVars: []string{"CLEANUP_SCHEDULE"},
			},
			&cli.StringFlag{
				Name:    "http-addr",
				EnvVars: []string{"HTTP_ADDR"},
				Value:   "0.0.0.0:8000",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
