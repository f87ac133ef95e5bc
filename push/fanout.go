package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Report result of one broadcast
type Report struct {
	// Attempted number of subscriptions targeted
	Attempted int
	// Delivered number of successful deliveries
	Delivered int
	// Failed number of deliveries which failed for reasons other than a gone endpoint
	Failed int
	// Pruned keys of the subscriptions removed as gone
	Pruned []string
}

// FanOut broadcasts notifications to every registered subscription
type FanOut interface {
	/*
		Broadcast deliver a notification to every subscription concurrently

		Deliveries are independent; subscriptions reported gone are removed once every
		delivery finished. Broadcast never fails.

			@param ctx context.Context - execution context
			@param notification Notification - the notification
			@returns the delivery report
	*/
	Broadcast(ctx context.Context, notification Notification) Report

	// Subscriptions the subscription set served by this fan-out
	Subscriptions() SubscriptionSet
}

// FanOutParams fan-out parameters
type FanOutParams struct {
	// Concurrency max parallel deliveries
	Concurrency int `validate:"gte=1"`
}

// fanOutImpl implements FanOut
type fanOutImpl struct {
	goutils.Component
	params        FanOutParams
	subscriptions SubscriptionSet
	sender        Sender
}

/*
NewFanOut define a new push fan-out

	@param params FanOutParams - fan-out parameters
	@param subscriptions SubscriptionSet - the subscription set
	@param sender Sender - delivery implementation
	@returns the fan-out
*/
func NewFanOut(params FanOutParams, subscriptions SubscriptionSet, sender Sender) (FanOut, error) {
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("fan-out parameters not valid [%w]", err)
	}

	logTags := log.Fields{"module": "push", "component": "fan-out"}

	return &fanOutImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:        params,
		subscriptions: subscriptions,
		sender:        sender,
	}, nil
}

func (f *fanOutImpl) Subscriptions() SubscriptionSet {
	return f.subscriptions
}

func (f *fanOutImpl) Broadcast(ctx context.Context, notification Notification) Report {
	logTags := f.GetLogTagsForContext(ctx)

	targets := f.subscriptions.List()
	report := Report{Attempted: len(targets), Pruned: []string{}}
	if len(targets) == 0 {
		return report
	}

	payload, err := json.Marshal(&notification)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to serialize notification")
		report.Failed = len(targets)
		return report
	}

	var lock sync.Mutex
	wg := errgroup.Group{}
	wg.SetLimit(f.params.Concurrency)
	for _, target := range targets {
		wg.Go(func() error {
			err := f.sender.Send(ctx, target.Subscription, payload)
			lock.Lock()
			defer lock.Unlock()
			switch {
			case err == nil:
				report.Delivered++
			case errors.Is(err, ErrSubscriptionGone):
				log.WithError(err).WithFields(logTags).Info("Pruning gone subscription")
				report.Pruned = append(report.Pruned, target.Key)
			default:
				log.WithError(err).WithFields(logTags).Warn("Push delivery failed")
				report.Failed++
			}
			// One delivery never stops another
			return nil
		})
	}
	_ = wg.Wait()

	if len(report.Pruned) > 0 {
		f.subscriptions.Remove(report.Pruned...)
	}

	log.WithFields(logTags).
		WithField("attempted", report.Attempted).
		WithField("delivered", report.Delivered).
		WithField("pruned", len(report.Pruned)).
		Debug("Broadcast complete")

	return report
}

// SyncedNotification the notification announcing a synced batch
func SyncedNotification(title string, count int) Notification {
	if count == 1 {
		return Notification{Title: title, Body: "Synced 1 note"}
	}
	return Notification{Title: title, Body: fmt.Sprintf("Synced %d notes", count)}
}
