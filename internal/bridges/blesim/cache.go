package blesim

import (
	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// biIndex is an insertion-ordered container keyed both by an integer id and
// by a normalised UUID. It is reused at every GATT level: services within a
// device, characteristics within a service, descriptors within a
// characteristic.
type biIndex[T any] struct {
	byID   map[int]T
	idOf   map[string]int
	uuidOf map[int]string
	order  []int
}

func newBiIndex[T any]() *biIndex[T] {
	return &biIndex[T]{
		byID:   make(map[int]T),
		idOf:   make(map[string]int),
		uuidOf: make(map[int]string),
	}
}

// put stores v under id and uuid, replacing any previous entry with that id.
// The replaced entry's UUID no longer resolves unless v reuses it.
func (x *biIndex[T]) put(id int, uuid string, v T) {
	key := ble.NormalizeUUID(uuid)
	if prev, exists := x.uuidOf[id]; exists {
		if prev != key && x.idOf[prev] == id {
			delete(x.idOf, prev)
		}
	} else {
		x.order = append(x.order, id)
	}
	x.byID[id] = v
	x.idOf[key] = id
	x.uuidOf[id] = key
}

func (x *biIndex[T]) getByID(id int) (T, bool) {
	v, ok := x.byID[id]
	return v, ok
}

func (x *biIndex[T]) getByUUID(uuid string) (T, bool) {
	id, ok := x.idOf[ble.NormalizeUUID(uuid)]
	if !ok {
		var zero T
		return zero, false
	}
	return x.getByID(id)
}

// values returns entries in insertion order.
func (x *biIndex[T]) values() []T {
	out := make([]T, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id])
	}
	return out
}

func (x *biIndex[T]) len() int {
	return len(x.byID)
}

// CachedService is a discovered service with its characteristics.
type CachedService struct {
	Service         ble.Service
	characteristics *biIndex[*CachedCharacteristic]
}

func newCachedService(svc ble.Service) *CachedService {
	return &CachedService{
		Service:         svc,
		characteristics: newBiIndex[*CachedCharacteristic](),
	}
}

func (s *CachedService) addCharacteristic(ch *CachedCharacteristic) {
	s.characteristics.put(ch.Characteristic.ID, ch.Characteristic.UUID, ch)
}

// CharacteristicByUUID looks up a characteristic of this service.
func (s *CachedService) CharacteristicByUUID(uuid string) (*CachedCharacteristic, bool) {
	return s.characteristics.getByUUID(uuid)
}

// Characteristics returns the service's characteristics in discovery order.
func (s *CachedService) Characteristics() []*CachedCharacteristic {
	return s.characteristics.values()
}

// CachedCharacteristic is a discovered characteristic with its descriptors.
//
// The Client Characteristic Configuration value is derived from IsNotifying
// (see ble.Characteristic.ClientConfigValue) and is not stored as a
// descriptor.
type CachedCharacteristic struct {
	Characteristic ble.Characteristic
	descriptors    *biIndex[*ble.Descriptor]
}

func newCachedCharacteristic(ch ble.Characteristic) *CachedCharacteristic {
	return &CachedCharacteristic{
		Characteristic: ch,
		descriptors:    newBiIndex[*ble.Descriptor](),
	}
}

func (c *CachedCharacteristic) addDescriptor(d ble.Descriptor) {
	c.descriptors.put(d.ID, d.UUID, &d)
}

// DescriptorByUUID looks up a descriptor of this characteristic.
func (c *CachedCharacteristic) DescriptorByUUID(uuid string) (*ble.Descriptor, bool) {
	return c.descriptors.getByUUID(uuid)
}

// Descriptors returns the characteristic's descriptors in discovery order.
func (c *CachedCharacteristic) Descriptors() []*ble.Descriptor {
	return c.descriptors.values()
}

// EntityCache holds the GATT tree of one device for one connection.
//
// States: disconnected (initial) -> connected -> disconnected (Clear).
// A non-empty service index means discovery has completed. Integer ids are
// only meaningful within one discovery generation.
//
// Thread Safety: Not safe for concurrent use; owned by the adapter loop.
type EntityCache struct {
	connected       bool
	services        *biIndex[*CachedService]
	characteristics map[int]*CachedCharacteristic
	descriptors     map[int]*ble.Descriptor
}

// NewEntityCache creates an empty, disconnected cache.
func NewEntityCache() *EntityCache {
	c := &EntityCache{}
	c.reset()
	return c
}

func (c *EntityCache) reset() {
	c.services = newBiIndex[*CachedService]()
	c.characteristics = make(map[int]*CachedCharacteristic)
	c.descriptors = make(map[int]*ble.Descriptor)
}

// IsConnected reports whether a CONNECTED event was the last transition.
func (c *EntityCache) IsConnected() bool {
	return c.connected
}

// SetConnected marks the device connected.
func (c *EntityCache) SetConnected() {
	c.connected = true
}

// Clear drops every index and returns to the disconnected state.
func (c *EntityCache) Clear() {
	c.connected = false
	c.reset()
}

// AddServices merges a discovery result into the cache.
//
// Returns:
//   - error: ErrNotConnected if the device is not connected
func (c *EntityCache) AddServices(services []*CachedService) error {
	if !c.connected {
		return ErrNotConnected
	}
	for _, svc := range services {
		c.services.put(svc.Service.ID, svc.Service.UUID, svc)
		for _, ch := range svc.Characteristics() {
			c.characteristics[ch.Characteristic.ID] = ch
			for _, d := range ch.Descriptors() {
				c.descriptors[d.ID] = d
			}
		}
	}
	return nil
}

// HasServices reports whether discovery has populated the cache.
func (c *EntityCache) HasServices() bool {
	return c.services.len() > 0
}

// Services returns cached services in discovery order.
func (c *EntityCache) Services() []*CachedService {
	return c.services.values()
}

// ServiceByUUID looks up a service by (case-insensitive) UUID.
func (c *EntityCache) ServiceByUUID(uuid string) (*CachedService, bool) {
	return c.services.getByUUID(uuid)
}

// ServiceByID looks up a service by id.
func (c *EntityCache) ServiceByID(id int) (*CachedService, bool) {
	return c.services.getByID(id)
}

// CharacteristicByID looks up a characteristic by id across all services.
func (c *EntityCache) CharacteristicByID(id int) (*CachedCharacteristic, bool) {
	ch, ok := c.characteristics[id]
	return ch, ok
}

// DescriptorByID looks up a descriptor by id across all characteristics.
func (c *EntityCache) DescriptorByID(id int) (*ble.Descriptor, bool) {
	d, ok := c.descriptors[id]
	return d, ok
}

// ContainsID reports whether id names any service, characteristic or
// descriptor in this cache.
func (c *EntityCache) ContainsID(id int) bool {
	if _, ok := c.services.getByID(id); ok {
		return true
	}
	if _, ok := c.characteristics[id]; ok {
		return true
	}
	_, ok := c.descriptors[id]
	return ok
}

// DescriptorCount returns the number of cached descriptors.
func (c *EntityCache) DescriptorCount() int {
	return len(c.descriptors)
}

// UpdateCharacteristic refreshes the cached value and notifying flag of a
// known characteristic. It reports whether the characteristic was cached.
func (c *EntityCache) UpdateCharacteristic(ch ble.Characteristic) bool {
	cached, ok := c.characteristics[ch.ID]
	if !ok {
		return false
	}
	cached.Characteristic.Value = ch.Clone().Value
	cached.Characteristic.IsNotifying = ch.IsNotifying
	return true
}

// UpdateDescriptor refreshes the cached value of a known descriptor.
func (c *EntityCache) UpdateDescriptor(d ble.Descriptor) bool {
	cached, ok := c.descriptors[d.ID]
	if !ok {
		return false
	}
	cached.Value = d.Clone().Value
	return true
}
