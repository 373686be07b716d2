// README: Match notifications over FCM topics, with a log-only notifier for local runs.
package events

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"freightmatch/internal/modules/matching"
	"freightmatch/internal/types"
)

// Sender is satisfied by *messaging.Client.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// RequestTopic is the FCM topic the owning company subscribes to.
func RequestTopic(id types.ID) string { return "request_" + string(id) }

// CandidateTopic is the FCM topic a driver's devices subscribe to.
func CandidateTopic(id types.ID) string { return "candidate_" + string(id) }

var titles = map[string]string{
	matching.EventMatchProposed:  "New load available",
	matching.EventMatchCountered: "Counter-offer received",
	matching.EventMatchAccepted:  "Match accepted",
	matching.EventMatchRejected:  "Match closed",
	matching.EventMatchWithdrawn: "Driver withdrew",
}

type FCMNotifier struct {
	client Sender
	log    *zap.Logger
}

func NewFCMNotifier(client Sender, logger *zap.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, log: logger.Named("fcm")}
}

// Notify sends one data message to the company topic and one to the candidate topic.
func (n *FCMNotifier) Notify(ctx context.Context, note matching.Notification) error {
	data := map[string]string{
		"type":         note.Event,
		"request_id":   string(note.RequestID),
		"match_id":     string(note.MatchID),
		"candidate_id": string(note.CandidateID),
	}
	for k, v := range note.Payload {
		data[k] = v
	}

	var errs []error
	for _, topic := range []string{RequestTopic(note.RequestID), CandidateTopic(note.CandidateID)} {
		msg := &messaging.Message{
			Topic: topic,
			Data:  data,
			Notification: &messaging.Notification{
				Title: titles[note.Event],
				Body:  fmt.Sprintf("Match %s: %s", note.MatchID, note.Event),
			},
			Android: &messaging.AndroidConfig{Priority: "high"},
		}
		id, err := n.client.Send(ctx, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("fcm send to %s: %w", topic, err))
			continue
		}
		n.log.Debug("fcm sent", zap.String("topic", topic), zap.String("event", note.Event), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{log: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, note matching.Notification) error {
	n.log.Info("notification",
		zap.String("event", note.Event),
		zap.String("request_id", string(note.RequestID)),
		zap.String("match_id", string(note.MatchID)),
		zap.String("candidate_id", string(note.CandidateID)),
		zap.Any("payload", note.Payload))
	return nil
}
