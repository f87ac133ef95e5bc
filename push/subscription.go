// Package push - push notification fan-out to registered subscriptions
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrSubscriptionGone the push service reports the endpoint no longer exists
	ErrSubscriptionGone = errors.New("subscription gone")
	// ErrBadSubscription the subscription descriptor is malformed
	ErrBadSubscription = errors.New("malformed subscription")
)

var validate = validator.New()

// SubscriptionKeys client keys of a subscription
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription a delivery endpoint descriptor supplied by the platform push service
type Subscription struct {
	Endpoint       string           `json:"endpoint" validate:"required"`
	ExpirationTime *int64           `json:"expirationTime,omitempty"`
	Keys           SubscriptionKeys `json:"keys"`
}

// RegisteredSubscription a subscription held by the set
type RegisteredSubscription struct {
	// Key canonical serialized form; the set identity of the subscription
	Key string
	Subscription
}

/*
ParseSubscription parse a subscription descriptor

	@param raw []byte - the serialized descriptor
	@returns the subscription and its canonical serialized form
*/
func ParseSubscription(raw []byte) (Subscription, string, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Subscription{}, "", fmt.Errorf("%w [%w]", ErrBadSubscription, err)
	}

	var parsed Subscription
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Subscription{}, "", fmt.Errorf("%w [%w]", ErrBadSubscription, err)
	}
	if err := validate.Struct(&parsed); err != nil {
		return Subscription{}, "", fmt.Errorf("%w [%w]", ErrBadSubscription, err)
	}

	// Map keys marshal in sorted order
	canonical, err := json.Marshal(generic)
	if err != nil {
		return Subscription{}, "", fmt.Errorf("%w [%w]", ErrBadSubscription, err)
	}

	return parsed, string(canonical), nil
}

// SubscriptionSet the process-wide set of registered subscriptions
//
// The set starts empty, grows through registration and shrinks only by pruning.
type SubscriptionSet interface {
	/*
		Add register a subscription

			@param raw []byte - the serialized descriptor
			@returns the subscription, and whether it was not already present
	*/
	Add(raw []byte) (RegisteredSubscription, bool, error)

	/*
		Remove drop subscriptions by key

			@param keys ...string - canonical keys
			@returns number removed
	*/
	Remove(keys ...string) int

	// List snapshot of the set, in registration order
	List() []RegisteredSubscription

	// Len number of subscriptions
	Len() int
}

// subscriptionSetImpl implements SubscriptionSet
type subscriptionSetImpl struct {
	lock    sync.RWMutex
	entries []RegisteredSubscription
	index   map[string]bool
}

// NewSubscriptionSet define an empty subscription set
func NewSubscriptionSet() SubscriptionSet {
	return &subscriptionSetImpl{index: map[string]bool{}}
}

func (s *subscriptionSetImpl) Add(raw []byte) (RegisteredSubscription, bool, error) {
	parsed, key, err := ParseSubscription(raw)
	if err != nil {
		return RegisteredSubscription{}, false, err
	}

	entry := RegisteredSubscription{Key: key, Subscription: parsed}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.index[key] {
		return entry, false, nil
	}
	s.index[key] = true
	s.entries = append(s.entries, entry)
	return entry, true, nil
}

func (s *subscriptionSetImpl) Remove(keys ...string) int {
	drop := map[string]bool{}
	for _, key := range keys {
		drop[key] = true
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	kept := make([]RegisteredSubscription, 0, len(s.entries))
	removed := 0
	for _, entry := range s.entries {
		if drop[entry.Key] {
			delete(s.index, entry.Key)
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed
}

func (s *subscriptionSetImpl) List() []RegisteredSubscription {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]RegisteredSubscription{}, s.entries...)
}

func (s *subscriptionSetImpl) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.entries)
}
