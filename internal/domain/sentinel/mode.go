package sentinel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// ModeStore is the persistence port ModeHolder reads its initial value
// from and writes operator changes to. sqlstore.ConfigStore satisfies
// this with the "mode" key.
type ModeStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

const modeConfigKey = "mode"

// ModeHolder is the process-global mode cell: Interceptor reads it on
// every request via Current, and the admin facade's mode endpoints read
// and write it via Current/Set. Load must run once at startup before
// Current is called.
type ModeHolder struct {
	store   ModeStore
	current atomic.Value // policy.Mode

	mu sync.Mutex
}

// NewModeHolder wraps store with the given mode as the in-memory default
// until Load or Set overwrites it.
func NewModeHolder(store ModeStore, fallback policy.Mode) *ModeHolder {
	h := &ModeHolder{store: store}
	h.current.Store(fallback)
	return h
}

// Load reads the persisted mode, if any, and makes it the current value.
// An unset key leaves the constructor's fallback in place.
func (h *ModeHolder) Load(ctx context.Context) error {
	value, ok, err := h.store.Get(ctx, modeConfigKey)
	if err != nil {
		return fmt.Errorf("mode: loading persisted mode: %w", err)
	}
	if !ok {
		return nil
	}
	mode, err := policy.ParseMode(value)
	if err != nil {
		return fmt.Errorf("mode: persisted mode %q: %w", value, err)
	}
	h.current.Store(mode)
	return nil
}

// Current returns the live mode. Safe to call from the Interceptor's
// mode callback on every request.
func (h *ModeHolder) Current() policy.Mode {
	return h.current.Load().(policy.Mode)
}

// Set validates, persists, and swaps in a new mode. Serialized against
// concurrent Set calls so a racing pair of operator writes can't leave
// the persisted and in-memory values pointing at different modes.
func (h *ModeHolder) Set(ctx context.Context, mode policy.Mode) error {
	if _, err := policy.ParseMode(string(mode)); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Set(ctx, modeConfigKey, string(mode)); err != nil {
		return fmt.Errorf("mode: persisting mode: %w", err)
	}
	h.current.Store(mode)
	return nil
}
