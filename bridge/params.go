package bridge

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// EventParamsUpdated is published with the whole store after every update.
const EventParamsUpdated = "paramsUpdated"

// ParamsStore holds host-pushed configuration. Updates merge shallowly.
// The host writes to it by sending a paramsUpdated event whose data is an
// object; the Go side writes through Update.
type ParamsStore struct {
	mu     sync.RWMutex
	values map[string]any

	dispatcher *Dispatcher
}

func newParamsStore(d *Dispatcher) *ParamsStore {
	return &ParamsStore{values: make(map[string]any), dispatcher: d}
}

// Update merges partial into the store and enqueues paramsUpdated carrying
// the whole store. Deliveries follow the order in which updates were merged.
func (s *ParamsStore) Update(partial map[string]any) error {
	if partial == nil {
		return fmt.Errorf("%w: params update must be a non-nil object", ErrInvalidArgument)
	}
	if _, err := json.Marshal(partial); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.values, partial)
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	s.dispatcher.Enqueue(EventParamsUpdated, data)
	return nil
}

// apply merges a host-pushed paramsUpdated payload. It reports false when
// data is not a JSON object, leaving the store untouched.
func (s *ParamsStore) apply(data json.RawMessage) bool {
	var partial map[string]any
	if err := json.Unmarshal(data, &partial); err != nil || partial == nil {
		return false
	}
	return s.Update(partial) == nil
}

func (s *ParamsStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// All returns a shallow copy of the store.
func (s *ParamsStore) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}
