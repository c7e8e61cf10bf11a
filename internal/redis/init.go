package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// Context for Redis operations (package private)
	ctx = context.Background()

	// Map of named Redis clients
	clients = make(map[string]*redis.Client)

	// Mutex for thread-safe access to the clients map
	clientsMutex sync.RWMutex
)

// NewClient creates a new Redis client with the given name and address
func NewClient(name, address string, useExisting bool) *redis.Client {
	if address == "" {
		address = "localhost:6379"
	}

	// use an existing connection unless otherwise requested
	if useExisting {
		clientsMutex.RLock()
		if client, exists := clients[name]; exists {
			clientsMutex.RUnlock()
			return client
		}
		clientsMutex.RUnlock()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            address,
		Password:        "",                             // no password by default
		DB:              0,                              // use default DB
		PoolSize:        10,                             // connection pool size
		MinIdleConns:    3,                              // minimum number of idle connections
		ConnMaxIdleTime: 240 * time.Second,              // how long connections stay idle
		DialTimeout:     time.Duration(2 * time.Second), // 2 second timeout for making connections
	})

	// Store in our clients map
	clientsMutex.Lock()
	clients[name] = client
	clientsMutex.Unlock()

	return client
}

// GetClient returns a Redis client by name, nil if it was never created
func GetClient(name string) *redis.Client {
	clientsMutex.RLock()
	defer clientsMutex.RUnlock()

	return clients[name]
}

// CloseAll closes all Redis clients
func CloseAll() {
	clientsMutex.Lock()
	defer clientsMutex.Unlock()

	for name, client := range clients {
		client.Close()
		delete(clients, name)
	}
}
