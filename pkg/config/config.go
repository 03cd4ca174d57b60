// Package config loads typed configuration structs from the environment.
//
// Each struct type is parsed once per process and cached, so packages can
// call Load for the same type from several places without re-reading the
// environment. A .env file in the working directory is loaded first when
// present. Parsed values are validated with `validate` struct tags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig   = errors.New("failed to parse environment variables into config")
	ErrInvalidConfig   = errors.New("config validation failed")
	ErrNilPointer      = errors.New("nil pointer provided to config loader")
	ErrConfigNotLoaded = errors.New("configuration has not been loaded")
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	dotenvOnce sync.Once
	mu         sync.Mutex
	cache      = map[reflect.Type]*entry{}
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// Load fills v from the environment. Subsequent calls for the same type
// return the cached result, including a cached failure.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load()
	})

	typ := reflect.TypeFor[T]()
	mu.Lock()
	e, ok := cache[typ]
	if !ok {
		e = &entry{}
		cache[typ] = e
	}
	mu.Unlock()

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		if err := Validate(&parsed); err != nil {
			e.err = err
			return
		}
		e.value = parsed
	})

	if e.err != nil {
		return e.err
	}
	cached, ok := e.value.(T)
	if !ok {
		return ErrConfigNotLoaded
	}
	*v = cached
	return nil
}

// MustLoad panics when Load fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// Validate checks `validate` struct tags. Non-struct values pass.
func Validate(v any) error {
	if reflect.Indirect(reflect.ValueOf(v)).Kind() != reflect.Struct {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

// reset clears the cache. Tests only.
func reset() {
	mu.Lock()
	cache = map[reflect.Type]*entry{}
	mu.Unlock()
}
