package crmsync

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-crmsync/core"
)

// HandlerPack replaces the built-in event handlers for some families. A host
// uses it to apply note or message events to its own records.
type HandlerPack struct {
	Name     string
	Handlers map[core.EventFamily]core.EventHandler
}

type CommandQueryBundleFactory func(facade *Facade) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks map[string]HandlerPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks: map[string]HandlerPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

// RegisterHandlerPack rejects a pack that claims a family another pack
// already handles.
func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("crmsync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("crmsync: handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("crmsync: handler pack %q has no handlers", name)
	}
	for family, handler := range pack.Handlers {
		if !knownFamily(family) {
			return fmt.Errorf("crmsync: handler pack %q names unknown family %q", name, family)
		}
		if handler == nil {
			return fmt.Errorf("crmsync: handler pack %q has a nil %s handler", name, family)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("crmsync: handler pack %q already registered", name)
	}
	for other, registered := range h.handlerPacks {
		for family := range pack.Handlers {
			if _, taken := registered.Handlers[family]; taken {
				return fmt.Errorf("crmsync: family %q already handled by pack %q", family, other)
			}
		}
	}
	h.handlerPacks[name] = HandlerPack{Name: name, Handlers: maps.Clone(pack.Handlers)}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("crmsync: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("crmsync: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("crmsync: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("crmsync: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// Handlers flattens every registered pack into one family map.
func (h *ExtensionHooks) Handlers() map[core.EventFamily]core.EventHandler {
	out := map[core.EventFamily]core.EventHandler{}
	if h == nil {
		return out
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, pack := range h.handlerPacks {
		maps.Copy(out, pack.Handlers)
	}
	return out
}

func (h *ExtensionHooks) BuildCommandQueryBundles(facade *Facade) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if facade == nil {
		return nil, fmt.Errorf("crmsync: facade is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	factories := maps.Clone(h.bundles)
	h.mu.RUnlock()
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](facade)
		if err != nil {
			return nil, fmt.Errorf("crmsync: build bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) PackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func knownFamily(family core.EventFamily) bool {
	switch family {
	case core.FamilyContact, core.FamilyOpportunity, core.FamilyTask, core.FamilyNote, core.FamilyMessage:
		return true
	default:
		return false
	}
}
