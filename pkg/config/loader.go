// Package config loads tenantauth configuration structs from defaults,
// files, dotenv files and the environment.
//
// Sources are applied in increasing priority:
//
//  1. `envDefault:"..."` struct tags
//  2. a YAML (.yaml/.yml) or JSON (.json) file, if configured and present
//  3. a dotenv file, if configured and present; it never overrides a
//     variable that is already set in the process environment
//  4. process environment variables named by `env:"..."` tags
//
// Nested structs extend the variable prefix with their own env tag, so
// `Redis redis.Config `env:"REDIS"`` inside a loader with prefix
// "TENANTAUTH" reads TENANTAUTH_REDIS_REDIS_HOST for a field tagged
// `env:"REDIS_HOST"`.
//
// After loading, fields tagged `required:"true"` must be non-zero, and a
// struct implementing [Validator] has its Validate method called.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader builds a configuration struct from layered sources. The zero value
// reads only defaults and unprefixed environment variables.
type Loader struct {
	envPrefix  string
	filePath   string
	dotEnvPath string
}

// New returns a Loader with no prefix and no files.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets the environment variable prefix. The prefix is
// upper-cased and joined to tag names with an underscore.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a YAML or JSON file to read. A missing file is ignored.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithDotEnv sets a dotenv file to read. A missing file is ignored.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := applyDefaults(rv); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := decodeFile(l.filePath, cfg); err != nil {
			return err
		}
	}

	lookup, err := l.lookupFunc()
	if err != nil {
		return err
	}
	if err := applyEnv(rv, l.envPrefix, lookup); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for main packages.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

type lookupFn func(key string) (string, bool)

// lookupFunc returns the variable lookup used by applyEnv: the process
// environment first, then the dotenv file.
func (l *Loader) lookupFunc() (lookupFn, error) {
	if l.dotEnvPath == "" {
		return os.LookupEnv, nil
	}
	if err := checkPath(l.dotEnvPath); err != nil {
		return nil, err
	}
	vars, err := godotenv.Read(l.dotEnvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.LookupEnv, nil
		}
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read dotenv file %q", l.dotEnvPath)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

func checkPath(path string) error {
	if strings.Contains(path, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}
	return nil
}

func decodeFile(path string, cfg any) error {
	if err := checkPath(path); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse file %q", path)
	}
	return nil
}

// isNested reports whether a field should be walked rather than set.
// Durations are int64 but never structs; time.Time is a struct that is
// set by the file decoders only.
func isNested(sf reflect.StructField) bool {
	return sf.Type.Kind() == reflect.Struct && sf.Type != reflect.TypeOf(time.Time{})
}

func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(sf) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		def, ok := sf.Tag.Lookup("envDefault")
		if !ok || !field.IsZero() {
			continue
		}
		if err := setField(field, def); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

func applyEnv(rv reflect.Value, prefix string, lookup lookupFn) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := sf.Tag.Get("env")

		if isNested(sf) {
			if err := applyEnv(field, joinKey(prefix, tag), lookup); err != nil {
				return err
			}
			continue
		}
		if tag == "" {
			continue
		}

		key := joinKey(prefix, tag)
		val, ok := lookup(key)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, key)
		}
	}
	return nil
}

func joinKey(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
