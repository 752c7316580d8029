package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"go.mongodb.org/mongo-driver/bson"
	"google.golang.org/api/option"
)

type PushManager struct {
	FirebaseApp *firebase.App
}

func (m *PushManager) Setup() error {
	fireBaseAuthKey := os.Getenv("SCHOOLRUN_FIREBASE_SERVICE_ACCOUNT")

	decodedKey, err := base64.StdEncoding.DecodeString(fireBaseAuthKey)
	if err != nil {
		return err
	}

	opts := []option.ClientOption{option.WithCredentialsJSON(decodedKey)}

	// Initialize firebase app
	app, err := firebase.NewApp(context.Background(), nil, opts...)

	if err != nil {
		return err
	}

	m.FirebaseApp = app

	return nil
}

func (m *PushManager) SendPush(notification sbdf.Notification) error {
	userPushNotificationTargetCollection := database.GetCollection("user_push_notification_target")
	var userPushNotificationTarget *sbdf.UserPushNotificationTarget

	userPushNotificationTargetCollection.FindOne(context.Background(), bson.M{
		"userid": notification.TargetUser,
	}).Decode(&userPushNotificationTarget)

	if userPushNotificationTarget == nil {
		return errors.New("failed to find user token")
	}

	fcmClient, err := m.FirebaseApp.Messaging(context.Background())

	if err != nil {
		return err
	}

	_, err = fcmClient.Send(context.Background(), &messaging.Message{
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Message,
		},
		Token: userPushNotificationTarget.PushNotificationToken,
	})

	if err != nil {
		return err
	}

	log.Info().Str("target", notification.TargetUser).Msg("Sent Push Notification")

	return nil
}
