package entity

import "time"

type ActorType string

const (
	ActorSystem  ActorType = "SYSTEM"
	ActorUser    ActorType = "USER"
	ActorWebhook ActorType = "WEBHOOK"
)

type Actor struct {
	Type ActorType
	ID   *uint64
}

func SystemActor() Actor {
	return Actor{Type: ActorSystem}
}

func WebhookActor() Actor {
	return Actor{Type: ActorWebhook}
}

func UserActor(userID uint64) Actor {
	return Actor{Type: ActorUser, ID: &userID}
}

type TransitionLogEntry struct {
	ID        uint64
	PaymentID uint64

	FromStatus PaymentStatus
	ToStatus   PaymentStatus
	Reason     string

	ActorType ActorType
	ActorID   *uint64

	CreatedAt time.Time
}
