package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Registry maps event type names to constructors so outbox payloads can
// be decoded back into the reward event types registered at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() any
}

// NewRegistry constructs a registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() any)}
}

// Register registers an event type (value or pointer).
func (r *Registry) Register(sample any) {
	if r == nil || sample == nil {
		return
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.String()
	r.mu.Lock()
	r.factories[name] = func() any {
		return reflect.New(t).Interface()
	}
	r.mu.Unlock()
}

// DecodePayload decodes an envelope payload into its concrete event. An
// event type nobody registered is an error; the dispatcher parks such
// envelopes in the DLQ instead of dropping them.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, errors.New("eventing: nil registry")
	}
	r.mu.RLock()
	factory := r.factories[env.EventType]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("eventing: unregistered event type %q", env.EventType)
	}
	target := factory()
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("eventing: decode %s payload: %w", env.EventType, err)
	}
	value := reflect.ValueOf(target)
	if value.Kind() == reflect.Ptr && !value.IsNil() {
		return value.Elem().Interface(), nil
	}
	return target, nil
}
