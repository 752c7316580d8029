package notify

import (
	"encoding/json"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

type NotifyBatchConsumer struct {
	PushManager *PushManager
}

func NewNotifyBatchConsumer(pushManager *PushManager) *NotifyBatchConsumer {
	return &NotifyBatchConsumer{PushManager: pushManager}
}

func (c *NotifyBatchConsumer) Consume(batch rmq.Deliveries) {
	payloads := batch.Payloads()

	for _, payload := range payloads {
		var notification sbdf.Notification
		if err := json.Unmarshal([]byte(payload), &notification); err != nil {
			log.Error().Err(err).Msg("Failed to decode notification")
			continue
		}

		if notification.Type != sbdf.NotificationTypePush {
			continue
		}

		if err := c.PushManager.SendPush(notification); err != nil {
			log.Error().Err(err).Str("target", notification.TargetUser).Msg("Failed to send push notification")
		}
	}

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Fatal().Err(err).Msg("Failed to consume from queue")
		}
	}
}
