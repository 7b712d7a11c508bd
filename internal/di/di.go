// Package di provides a minimal service container with typed tokens.
// Modules register constructors under string keys; the generic Token helpers
// give compile-time typed access without each module reimplementing casts.
package di

import (
	"fmt"
	"sync"
)

// ServiceRegistry is the read side of the container.
type ServiceRegistry interface {
	// Get returns the service registered under key, constructing it on first use.
	Get(key string) any
}

// Container is the full registration and lookup interface.
type Container interface {
	ServiceRegistry

	// Register stores an already-constructed service instance.
	Register(key string, instance any)

	// RegisterFactory stores a lazy constructor; the instance is built once,
	// on first Get, and memoized.
	RegisterFactory(key string, factory func(ServiceRegistry) any)
}

type container struct {
	mu        sync.RWMutex
	instances map[string]any
	factories map[string]func(ServiceRegistry) any
}

// NewContainer creates an empty Container.
func NewContainer() Container {
	return &container{
		instances: make(map[string]any),
		factories: make(map[string]func(ServiceRegistry) any),
	}
}

func (c *container) Register(key string, instance any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[key] = instance
}

func (c *container) RegisterFactory(key string, factory func(ServiceRegistry) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[key] = factory
}

func (c *container) Get(key string) any {
	c.mu.RLock()
	if inst, ok := c.instances[key]; ok {
		c.mu.RUnlock()
		return inst
	}
	factory, ok := c.factories[key]
	c.mu.RUnlock()

	if !ok {
		panic(fmt.Sprintf("di: service %q not registered", key))
	}

	// Build outside the lock so factories may resolve their own dependencies.
	inst := factory(c)

	c.mu.Lock()
	// Another goroutine may have raced the construction; keep the first.
	if existing, ok := c.instances[key]; ok {
		c.mu.Unlock()
		return existing
	}
	c.instances[key] = inst
	c.mu.Unlock()

	return inst
}

// Token is a typed handle to a registered service.
type Token[T any] struct {
	key string
}

// NewToken creates a typed token for the given registry key.
func NewToken[T any](key string) Token[T] {
	return Token[T]{key: key}
}

// Key returns the underlying registry key.
func (t Token[T]) Key() string {
	return t.key
}

// RegisterToken registers a typed factory under the token's key.
func RegisterToken[T any](c Container, t Token[T], factory func(ServiceRegistry) T) {
	c.RegisterFactory(t.key, func(sr ServiceRegistry) any {
		return factory(sr)
	})
}

// GetToken resolves a typed service. Panics if the registered instance does
// not match the token type, which is always a wiring bug.
func GetToken[T any](sr ServiceRegistry, t Token[T]) T {
	inst := sr.Get(t.key)
	typed, ok := inst.(T)
	if !ok {
		panic(fmt.Sprintf("di: service %q has type %T, token expects different type", t.key, inst))
	}
	return typed
}
