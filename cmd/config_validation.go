package cmd

import (
	"net"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
// It returns an error when any configured value is malformed or violates constraints.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter validates startup configuration via a key-value getter.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateListenConfig(get, &validationErrs)
	validateDBConfig(get, &validationErrs)
	validateRedisConfig(get, &validationErrs)
	validateSearchConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

func validateListenConfig(get configGetter, errs *[]string) {
	raw := get("listen")
	if raw == nil {
		return
	}

	addr, ok := raw.(string)
	if !ok || addr == "" {
		*errs = append(*errs, "listen: must be a non-empty host:port string")
		return
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		*errs = append(*errs, "listen: "+err.Error())
	}
}

func validateDBConfig(get configGetter, errs *[]string) {
	raw := get("settings.db.research.path")
	if raw == nil {
		return
	}

	if path, ok := raw.(string); !ok || path == "" {
		*errs = append(*errs, "settings.db.research.path: must be a non-empty file path")
	}
}

// validateRedisConfig validates redis-related startup configuration values.
func validateRedisConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.db.redis.db", 0, errs)
}

func validateSearchConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.search.rate_limit", 1, errs)
	validateOptionalIntMin(get, "settings.search.cache_ttl_hours", 1, errs)
}

// validateOptionalIntMin appends an error when the key is set to something
// that is not an integer of at least min. Unset keys pass.
func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, ok := asInt(raw)
	if !ok {
		*errs = append(*errs, key+": must be an integer")
		return
	}
	if value < min {
		*errs = append(*errs, key+": must be >= "+strconv.Itoa(min))
	}
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
