// Package memory is an in-memory implementation of the store contract.
// Transactions run on a deep copy of the state which is swapped in on
// commit, so a failed Update leaves no trace. A single writer lock
// serializes updates, which subsumes per-holding row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/store"
)

type holdingKey struct {
	entity   string
	resource string
}

type callKey struct {
	clientKey string
	serial    int64
}

type state struct {
	entities    map[string]models.Entity
	policies    map[string]models.Policy
	holdings    map[holdingKey]models.Holding
	commissions map[int64]models.Commission
	provisions  map[int64][]models.Provision
	log         []models.ProvisionLog
	callSerials map[callKey]models.CallSerial
	serial      int64
	logID       int64
}

func newState() *state {
	return &state{
		entities:    map[string]models.Entity{},
		policies:    map[string]models.Policy{},
		holdings:    map[holdingKey]models.Holding{},
		commissions: map[int64]models.Commission{},
		provisions:  map[int64][]models.Provision{},
		callSerials: map[callKey]models.CallSerial{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.holdings {
		c.holdings[k] = v
	}
	for k, v := range s.commissions {
		c.commissions[k] = v
	}
	for k, v := range s.provisions {
		c.provisions[k] = append([]models.Provision(nil), v...)
	}
	for k, v := range s.callSerials {
		cs := v
		cs.Args = append([]byte(nil), v.Args...)
		c.callSerials[k] = cs
	}
	c.log = append([]models.ProvisionLog(nil), s.log...)
	c.serial = s.serial
	c.logID = s.logID
	return c
}

// Store holds the shared state.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Read-only callers still get a scratch copy; their writes are
	// simply discarded.
	return fn(&tx{st: s.st.clone()})
}

func (s *Store) Close() {}

type tx struct {
	st *state
}

func (t *tx) GetEntity(name string) (*models.Entity, error) {
	e, ok := t.st.entities[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (t *tx) InsertEntity(e *models.Entity) error {
	if _, ok := t.st.entities[e.Name]; ok {
		return store.ErrExists
	}
	t.st.entities[e.Name] = *e
	return nil
}

func (t *tx) UpdateEntity(e *models.Entity) error {
	if _, ok := t.st.entities[e.Name]; !ok {
		return store.ErrNotFound
	}
	t.st.entities[e.Name] = *e
	return nil
}

func (t *tx) DeleteEntity(name string) error {
	if _, ok := t.st.entities[name]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.entities, name)
	return nil
}

func (t *tx) ListChildren(owner string) ([]string, error) {
	var children []string
	for name, e := range t.st.entities {
		if e.Owner == owner && name != owner {
			children = append(children, name)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (t *tx) GetPolicy(name string) (*models.Policy, error) {
	p, ok := t.st.policies[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) InsertPolicy(p *models.Policy) error {
	if _, ok := t.st.policies[p.Name]; ok {
		return store.ErrExists
	}
	t.st.policies[p.Name] = *p
	return nil
}

func (t *tx) UpdatePolicy(p *models.Policy) error {
	if _, ok := t.st.policies[p.Name]; !ok {
		return store.ErrNotFound
	}
	t.st.policies[p.Name] = *p
	return nil
}

func (t *tx) DeletePolicy(name string) error {
	if _, ok := t.st.policies[name]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.policies, name)
	return nil
}

func (t *tx) GetHolding(entity, resource string, lock bool) (*models.Holding, error) {
	h, ok := t.st.holdings[holdingKey{entity, resource}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &h, nil
}

func (t *tx) InsertHolding(h *models.Holding) error {
	k := holdingKey{h.Entity, h.Resource}
	if _, ok := t.st.holdings[k]; ok {
		return store.ErrExists
	}
	t.st.holdings[k] = *h
	return nil
}

func (t *tx) UpdateHolding(h *models.Holding) error {
	k := holdingKey{h.Entity, h.Resource}
	if _, ok := t.st.holdings[k]; !ok {
		return store.ErrNotFound
	}
	t.st.holdings[k] = *h
	return nil
}

func (t *tx) DeleteHolding(entity, resource string) error {
	k := holdingKey{entity, resource}
	if _, ok := t.st.holdings[k]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.holdings, k)
	return nil
}

func (t *tx) ListHoldings(entity string) ([]models.Holding, error) {
	var out []models.Holding
	for k, h := range t.st.holdings {
		if k.entity == entity {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out, nil
}

func (t *tx) EntityHasHoldings(entity string) (bool, error) {
	for k := range t.st.holdings {
		if k.entity == entity {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) ResourceHeldBy(entities []string, resource string) (bool, error) {
	for _, e := range entities {
		if _, ok := t.st.holdings[holdingKey{e, resource}]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) NextSerial() (int64, error) {
	t.st.serial++
	return t.st.serial, nil
}

func (t *tx) InsertCommission(c *models.Commission) error {
	if _, ok := t.st.commissions[c.Serial]; ok {
		return store.ErrExists
	}
	t.st.commissions[c.Serial] = *c
	return nil
}

func (t *tx) GetCommission(serial int64) (*models.Commission, error) {
	c, ok := t.st.commissions[serial]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) DeleteCommission(serial int64) error {
	if _, ok := t.st.commissions[serial]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.commissions, serial)
	return nil
}

func (t *tx) PendingSerials(clientKey string) ([]int64, error) {
	var serials []int64
	for s, c := range t.st.commissions {
		if c.ClientKey == clientKey {
			serials = append(serials, s)
		}
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	return serials, nil
}

func (t *tx) InsertProvision(p *models.Provision) error {
	t.st.provisions[p.Serial] = append(t.st.provisions[p.Serial], *p)
	return nil
}

func (t *tx) Provisions(serial int64) ([]models.Provision, error) {
	return append([]models.Provision(nil), t.st.provisions[serial]...), nil
}

func (t *tx) DeleteProvisions(serial int64) error {
	delete(t.st.provisions, serial)
	return nil
}

func (t *tx) AppendLog(l *models.ProvisionLog) error {
	t.st.logID++
	l.ID = t.st.logID
	t.st.log = append(t.st.log, *l)
	return nil
}

func (t *tx) ScanLog(after, before time.Time, offset, limit int) ([]models.ProvisionLog, error) {
	var window []models.ProvisionLog
	for _, l := range t.st.log {
		if l.LogTime.After(after) && !l.LogTime.After(before) {
			window = append(window, l)
		}
	}
	sort.Slice(window, func(i, j int) bool {
		if window[i].LogTime.Equal(window[j].LogTime) {
			return window[i].ID < window[j].ID
		}
		return window[i].LogTime.Before(window[j].LogTime)
	})
	if offset >= len(window) {
		return nil, nil
	}
	window = window[offset:]
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}

func (t *tx) GetCallSerial(clientKey string, serial int64) (*models.CallSerial, error) {
	cs, ok := t.st.callSerials[callKey{clientKey, serial}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cs, nil
}

func (t *tx) InsertCallSerial(cs *models.CallSerial) error {
	k := callKey{cs.ClientKey, cs.Serial}
	if _, ok := t.st.callSerials[k]; ok {
		return store.ErrExists
	}
	t.st.callSerials[k] = *cs
	return nil
}

func (t *tx) DeleteCallSerial(clientKey string, serial int64) error {
	k := callKey{clientKey, serial}
	if _, ok := t.st.callSerials[k]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.callSerials, k)
	return nil
}
