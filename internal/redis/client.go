package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// errNoClient reports an operation against a client name that was never
// registered with NewClient.
func errNoClient(clientName string) error {
	return fmt.Errorf("no redis client named %q", clientName)
}

// DeleteOn removes keys from a specific client
func DeleteOn(clientName string, keys ...string) error {
	client := GetClient(clientName)
	if client == nil {
		return errNoClient(clientName)
	}
	return client.Del(ctx, keys...).Err()
}

// ExpireOn sets a key's expiration time on a specific client
func ExpireOn(clientName, key string, seconds int) error {
	client := GetClient(clientName)
	if client == nil {
		return errNoClient(clientName)
	}
	return client.Expire(ctx, key, time.Duration(seconds)*time.Second).Err()
}

// PingClient checks the connection to a specific Redis client
func PingClient(clientName string) error {
	client := GetClient(clientName)
	if client == nil {
		return errNoClient(clientName)
	}
	return client.Ping(ctx).Err()
}

// ScanFrom iterates over keys matching a pattern from a specific client
func ScanFrom(clientName, pattern string) ([]string, error) {
	client := GetClient(clientName)
	if client == nil {
		return nil, errNoClient(clientName)
	}

	var keys []string
	var cursor uint64

	for {
		var scanKeys []string
		var err error
		scanKeys, cursor, err = client.Scan(ctx, cursor, pattern, 10).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, scanKeys...)

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// SetJSONOn stores a struct as JSON on a specific client
func SetJSONOn(clientName, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	client := GetClient(clientName)
	if client == nil {
		return errNoClient(clientName)
	}
	return client.Set(ctx, key, data, 0).Err()
}

// GetJSONFrom retrieves a JSON value from a specific client
func GetJSONFrom(clientName, key string, dest interface{}) error {
	client := GetClient(clientName)
	if client == nil {
		return errNoClient(clientName)
	}
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
