package cache

import "strings"

const keyPrefix = "availability:"

// Key builds the cache key for a date and optional resource.
func Key(date, resourceKey string) string {
	resourceKey = strings.TrimSpace(resourceKey)
	if resourceKey == "" {
		return keyPrefix + date
	}
	return keyPrefix + date + ":" + resourceKey
}

// DatePrefix matches every key of date, across all resources.
func DatePrefix(date string) string {
	return keyPrefix + date
}

func matchesPrefix(key, prefix string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, ":") || strings.HasSuffix(prefix, ":")
}
