package sbdf

type Notification struct {
	TargetUser string
	Type       NotificationType

	Title   string
	Message string
}

type NotificationType string

const (
	NotificationTypePush  NotificationType = "Push"
	NotificationTypeEmail NotificationType = "Email"
)

type UserPushNotificationTarget struct {
	UserID                string `bson:"userid"`
	PushNotificationToken string `bson:"pushnotificationtoken"`
}

// NotificationPreference subscribes a user to events about a bus or child
type NotificationPreference struct {
	UserID string `bson:"userid"`

	BusIdentifier   string `bson:"busidentifier,omitempty"`
	ChildIdentifier string `bson:"childidentifier,omitempty"`

	EventTypes []EventType `bson:"eventtypes"`
}

func (p *NotificationPreference) Matches(event *Event) bool {
	subjectMatch := false

	if p.BusIdentifier != "" && p.BusIdentifier == event.BusIdentifier {
		subjectMatch = true
	}
	if p.ChildIdentifier != "" && p.ChildIdentifier == event.ChildIdentifier {
		subjectMatch = true
	}

	if !subjectMatch {
		return false
	}

	if len(p.EventTypes) == 0 {
		return true
	}

	for _, eventType := range p.EventTypes {
		if eventType == event.Type {
			return true
		}
	}

	return false
}
