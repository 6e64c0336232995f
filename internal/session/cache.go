package session

import (
	"encoding/json"

	"github.com/homegoods/storefront/internal/model"
)

// cacheEntry is the persisted snapshot. ExpiresAt is wall-clock epoch milliseconds.
type cacheEntry struct {
	User      model.Account  `json:"user"`
	Customer  model.Customer `json:"customer"`
	ExpiresAt int64          `json:"expiresAt"`
}

func (m *Manager) loadCache() *cacheEntry {
	raw, ok, err := m.cache.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("read session cache")
		return nil
	}
	if !ok {
		return nil
	}

	var entry cacheEntry
	now := m.now()
	switch {
	case json.Unmarshal(raw, &entry) != nil:
		m.log.Info().Msg("discarding malformed session cache")
	case entry.User.Email == "" || model.NormalizeEmail(entry.Customer.Email) != model.NormalizeEmail(entry.User.Email):
		m.log.Info().Msg("discarding inconsistent session cache")
	case entry.ExpiresAt <= now.UnixMilli():
		m.log.Info().Msg("discarding expired session cache")
	case entry.ExpiresAt > now.Add(m.opts.CacheTTL).UnixMilli():
		m.log.Info().Msg("discarding session cache beyond maximum age")
	default:
		return &entry
	}
	m.deleteCache()
	return nil
}

func (m *Manager) saveCache(user model.Account, customer model.Customer) {
	raw, err := json.Marshal(cacheEntry{
		User:      user,
		Customer:  customer,
		ExpiresAt: m.now().Add(m.opts.CacheTTL).UnixMilli(),
	})
	if err != nil {
		m.log.Error().Err(err).Msg("encode session cache")
		return
	}
	if err := m.cache.Save(raw); err != nil {
		m.log.Error().Err(err).Msg("write session cache")
	}
}

func (m *Manager) deleteCache() {
	if err := m.cache.Delete(); err != nil {
		m.log.Error().Err(err).Msg("delete session cache")
	}
}
