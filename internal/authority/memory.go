package authority

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

type recordKey struct {
	deviceID  string
	productID string
}

// Memory is an in-process Authority. It also implements Admin, and can be
// told to fail every call to simulate an unreachable authority.
type Memory struct {
	mu          sync.Mutex
	licenses    map[recordKey]LicenseRecord
	demos       map[recordKey]DemoRecord
	heartbeats  []Heartbeat
	subscribers map[string][]chan ChangeEvent
	calls       map[string]int
	failWith    error
}

// NewMemory creates an empty in-memory authority
func NewMemory() *Memory {
	return &Memory{
		licenses:    make(map[recordKey]LicenseRecord),
		demos:       make(map[recordKey]DemoRecord),
		subscribers: make(map[string][]chan ChangeEvent),
		calls:       make(map[string]int),
	}
}

// SetOffline makes every call fail with a network error until cleared
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offline {
		m.failWith = apperrors.NewNetworkError("memory", context.DeadlineExceeded)
	} else {
		m.failWith = nil
	}
}

// Calls returns how many times op was invoked
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Heartbeats returns a copy of the recorded heartbeats
func (m *Memory) Heartbeats() []Heartbeat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Heartbeat(nil), m.heartbeats...)
}

// Put stores a record as an administrator would, without notifying
func (m *Memory) Put(rec LicenseRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.licenses[recordKey{rec.DeviceID, rec.ProductID}] = rec
}

func (m *Memory) enter(op string) error {
	m.calls[op]++
	return m.failWith
}

func (m *Memory) GetLicense(_ context.Context, deviceID, productID string) (*LicenseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_license"); err != nil {
		return nil, err
	}
	rec, ok := m.licenses[recordKey{deviceID, productID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) UpsertLicense(_ context.Context, deviceID, productID string, fields LicenseFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upsert_license"); err != nil {
		return err
	}
	key := recordKey{deviceID, productID}
	rec := m.licenses[key]
	rec.DeviceID = deviceID
	rec.ProductID = productID
	rec.Type = fields.Type
	rec.Active = fields.Active
	rec.ExpiresAt = fields.ExpiresAt
	m.licenses[key] = rec
	return nil
}

func (m *Memory) TouchLastSeen(_ context.Context, deviceID, productID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("touch_last_seen"); err != nil {
		return err
	}
	key := recordKey{deviceID, productID}
	rec, ok := m.licenses[key]
	if !ok {
		return nil
	}
	rec.LastSeenAt = &at
	m.licenses[key] = rec
	return nil
}

func (m *Memory) AppendHeartbeat(_ context.Context, hb Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("append_heartbeat"); err != nil {
		return err
	}
	m.heartbeats = append(m.heartbeats, hb)
	return nil
}

func (m *Memory) GetDemo(_ context.Context, deviceID, productID string) (*DemoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_demo"); err != nil {
		return nil, err
	}
	demo, ok := m.demos[recordKey{deviceID, productID}]
	if !ok {
		return nil, nil
	}
	return &demo, nil
}

// UpsertDemo keeps the first record for a device and product
func (m *Memory) UpsertDemo(_ context.Context, demo DemoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upsert_demo"); err != nil {
		return err
	}
	key := recordKey{demo.DeviceID, demo.ProductID}
	if _, exists := m.demos[key]; !exists {
		m.demos[key] = demo
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, deviceID string) (<-chan ChangeEvent, error) {
	m.mu.Lock()
	if err := m.enter("subscribe"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ch := make(chan ChangeEvent, 16)
	m.subscribers[deviceID] = append(m.subscribers[deviceID], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[deviceID]
		for i, c := range subs {
			if c == ch {
				m.subscribers[deviceID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions for deviceID
func (m *Memory) Subscribers(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[deviceID])
}

// SetActive flips the active flag and notifies subscribers
func (m *Memory) SetActive(_ context.Context, deviceID, productID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{deviceID, productID}
	rec, ok := m.licenses[key]
	if !ok {
		return apperrors.ErrRecordNotFound
	}
	rec.Active = active
	m.licenses[key] = rec

	event := ChangeEvent{DeviceID: deviceID, ProductID: productID, Active: active, Type: rec.Type, At: time.Now()}
	for _, ch := range m.subscribers[deviceID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (m *Memory) ListLicenses(_ context.Context) ([]LicenseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LicenseRecord, 0, len(m.licenses))
	for _, rec := range m.licenses {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}
