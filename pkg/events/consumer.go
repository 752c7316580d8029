package events

import (
	"context"
	"encoding/json"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"go.mongodb.org/mongo-driver/bson"
)

// EventsBatchConsumer matches domain events from the tracking server against
// stored notification preferences and enqueues one Notification per
// interested user on the notify queue
type EventsBatchConsumer struct {
	NotifyQueue rmq.Queue
}

func NewEventsBatchConsumer(notifyQueue rmq.Queue) *EventsBatchConsumer {
	return &EventsBatchConsumer{NotifyQueue: notifyQueue}
}

func (c *EventsBatchConsumer) Consume(batch rmq.Deliveries) {
	payloads := batch.Payloads()

	for _, payload := range payloads {
		var event *sbdf.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			log.Error().Err(err).Msg("Failed to decode event")
			continue
		}

		c.processEvent(event)
	}

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Fatal().Err(err).Msg("Failed to consume event")
		}
	}
}

func (c *EventsBatchConsumer) processEvent(event *sbdf.Event) {
	preferencesCollection := database.GetCollection("notification_preferences")

	filter := bson.M{"busidentifier": event.BusIdentifier}
	if event.ChildIdentifier != "" {
		filter = bson.M{"$or": bson.A{
			bson.M{"busidentifier": event.BusIdentifier},
			bson.M{"childidentifier": event.ChildIdentifier},
		}}
	}

	cursor, err := preferencesCollection.Find(context.Background(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query notification preferences")
		return
	}

	notified := map[string]struct{}{}

	for cursor.Next(context.Background()) {
		var preference *sbdf.NotificationPreference
		if err := cursor.Decode(&preference); err != nil {
			log.Error().Err(err).Msg("Failed to decode notification preference")
			continue
		}

		if !preference.Matches(event) {
			continue
		}

		// One notification per user per event even if several preferences match
		if _, alreadyNotified := notified[preference.UserID]; alreadyNotified {
			continue
		}
		notified[preference.UserID] = struct{}{}

		notificationData := event.GetNotificationData()

		notification := sbdf.Notification{
			TargetUser: preference.UserID,
			Type:       sbdf.NotificationTypePush,

			Title:   notificationData.Title,
			Message: notificationData.Message,
		}

		notificationBytes, _ := json.Marshal(notification)

		if err := c.NotifyQueue.PublishBytes(notificationBytes); err != nil {
			log.Error().Err(err).Str("user", preference.UserID).Msg("Failed to publish notification")
		}
	}
}
