package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/serendip/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ProfileConfigFile is the per-profile overlay read from the profile directory.
const ProfileConfigFile = "config.yaml"

// LoadOptions controls LoadConfig.
type LoadOptions struct {
	// EnvFilePath is the .env file to load; empty means ".env" in the working directory.
	EnvFilePath string
	// Embedded is the default YAML compiled into the binary.
	Embedded EmbeddedConfig
	// Profile overrides serendip.profile when non-empty.
	Profile string
	// ProfilesDir overrides serendip.profiles_dir when non-empty.
	ProfilesDir string
	// Overrides are "dotted.key=value" assignments relative to the serendip section.
	Overrides []string
	// Expander expands ${VAR} placeholders in YAML sources. Defaults to OsEnvironmentExpander.
	Expander EnvironmentExpander
}

// LoadConfig builds the configuration in layers: defaults, embedded YAML,
// the profile's config.yaml, SERENDIP_* environment variables and finally
// the --set overrides. Later layers win.
func LoadConfig(opts LoadOptions) (*Config, error) {
	if opts.EnvFilePath != "" {
		if err := godotenv.Load(opts.EnvFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", opts.EnvFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}
	expander := opts.Expander
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()
	cfg.EmbeddedConfig = opts.Embedded

	// yaml.v3 leaves fields that are absent from the document untouched, so
	// decoding onto the defaults is a merge where present keys win.
	if len(opts.Embedded) > 0 {
		expanded, err := expander.Expand(opts.Embedded)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand embedded config", err, false)
		}
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false)
		}
	}

	if opts.ProfilesDir != "" {
		cfg.Serendip.ProfilesDir = opts.ProfilesDir
	} else if v, ok := os.LookupEnv("SERENDIP_PROFILES_DIR"); ok {
		cfg.Serendip.ProfilesDir = v
	}
	switch {
	case opts.Profile != "":
		cfg.Serendip.Profile = opts.Profile
	default:
		if v, ok := os.LookupEnv("SERENDIP_PROFILE"); ok {
			cfg.Serendip.Profile = v
		}
	}

	if err := loadProfileOverlay(cfg, expander); err != nil {
		return nil, err
	}
	// The profile itself is fixed once its overlay is read.
	profile, profilesDir := cfg.Serendip.Profile, cfg.Serendip.ProfilesDir

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false)
	}
	if len(opts.Overrides) > 0 {
		if err := configbinder.BindAssignments(opts.Overrides, &cfg.Serendip); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to apply --set overrides", err, false)
		}
	}
	cfg.Serendip.Profile, cfg.Serendip.ProfilesDir = profile, profilesDir

	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false)
	}
	logger.SetLogLevel(cfg.Serendip.System.Logging.Level)
	return cfg, nil
}

// loadProfileOverlay decodes <profiles_dir>/<profile>/config.yaml onto the
// serendip section. The overlay uses the same keys without the serendip root.
func loadProfileOverlay(cfg *Config, expander EnvironmentExpander) error {
	path := filepath.Join(cfg.ProfileDir(), ProfileConfigFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debugf("No profile config at %s.", path)
			return nil
		}
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to read profile config %s", path), err, false)
	}
	expanded, err := expander.Expand(raw)
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to expand profile config", err, false)
	}
	profile := cfg.Serendip.Profile
	if err := yaml.Unmarshal(expanded, &cfg.Serendip); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to unmarshal profile config %s", path), err, false)
	}
	cfg.Serendip.Profile = profile
	logger.Debugf("Loaded profile config %s.", path)
	return nil
}

// Validate checks enumerated values and numeric bounds, reporting every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	s := c.Serendip

	check := func(cond bool, format string, args ...interface{}) {
		if !cond {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}
	oneOf := func(value string, allowed ...string) bool {
		for _, a := range allowed {
			if value == a {
				return true
			}
		}
		return false
	}

	check(s.Profile != "", "profile must not be empty")
	check(s.Retry.MaxRetries >= 0, "retry.max_retries must be >= 0, got %d", s.Retry.MaxRetries)
	check(s.Retry.BaseDelay >= 0, "retry.base_delay must be >= 0, got %v", s.Retry.BaseDelay)
	check(oneOf(s.Plan.AxisDistribution, DistributionWeighted, DistributionBalanced),
		"plan.axis_distribution must be weighted or balanced, got %q", s.Plan.AxisDistribution)
	check(oneOf(s.Plan.DedupeMode, DedupeStrict, DedupeNone, "off", ""),
		"plan.dedupe_mode must be strict or none, got %q", s.Plan.DedupeMode)
	check(oneOf(s.Plan.TagSampling.Mode, TagSamplingOff, TagSamplingUniform, TagSamplingWeighted, ""),
		"plan.tag_sampling.mode must be off, uniform or weighted, got %q", s.Plan.TagSampling.Mode)
	for category, mode := range s.Plan.TagSampling.PerCategory {
		check(oneOf(mode, TagSamplingOff, TagSamplingUniform, TagSamplingWeighted),
			"plan.tag_sampling.per_category.%s must be off, uniform or weighted, got %q", category, mode)
	}
	check(oneOf(s.Plan.DomainInjection, DomainInjectionNone, DomainInjectionContext, DomainInjectionContextAndHints, ""),
		"plan.domain_injection must be none, context or context_and_hints, got %q", s.Plan.DomainInjection)
	check(s.Plan.TargetCount >= 0, "plan.target_count must be >= 0, got %d", s.Plan.TargetCount)
	check(s.Plan.Avoidance.Window >= 0, "plan.avoidance.window must be >= 0")
	check(s.Plan.Avoidance.MaxTokenCount >= 0, "plan.avoidance.max_token_count must be >= 0")
	check(s.Plan.Mix.Ratio >= 0 && s.Plan.Mix.Ratio <= 1, "plan.mix.ratio must be within [0, 1], got %v", s.Plan.Mix.Ratio)
	check(s.Plan.Mix.MinLen <= s.Plan.Mix.MaxLen, "plan.mix.min_len (%d) must not exceed plan.mix.max_len (%d)", s.Plan.Mix.MinLen, s.Plan.Mix.MaxLen)
	for axis, w := range s.Plan.AxisWeights {
		check(w >= 0, "plan.axis_weights.%s must be >= 0, got %v", axis, w)
	}
	check(s.Plan.MaxAttemptsFactor > 0, "plan.max_attempts_factor must be > 0")
	check(s.Batch.ChunkSize > 0, "batch.chunk_size must be > 0, got %d", s.Batch.ChunkSize)
	check(s.Batch.PollingIntervalSeconds > 0, "batch.polling_interval_seconds must be > 0")
	check(s.Batch.StatusParallelism > 0, "batch.status_parallelism must be > 0")
	check(oneOf(s.Storage.Type, "local", "gcs"), "storage.type must be local or gcs, got %q", s.Storage.Type)
	if s.Storage.Type == "gcs" {
		check(s.Storage.Bucket != "", "storage.bucket is required for gcs storage")
	}
	if s.Database.Enabled {
		check(oneOf(s.Database.Type, "sqlite", "postgres", "mysql"),
			"database.type must be sqlite, postgres or mysql, got %q", s.Database.Type)
	}
	if s.Metrics.Enabled {
		check(oneOf(s.Metrics.Exporter, "prometheus", "otlp"),
			"metrics.exporter must be prometheus or otlp, got %q", s.Metrics.Exporter)
		check(s.Metrics.AsyncBufferSize >= 0, "metrics.async_buffer_size must be >= 0")
	}
	return result.ErrorOrNil()
}

// RequireAPIKey fails when no API key is available. Dry runs never call the remote service.
func (c *Config) RequireAPIKey() error {
	if c.Serendip.DryRun {
		return nil
	}
	if c.ResolveAPIKey() == "" {
		return exception.NewBatchError(moduleName, "GOOGLE_API_KEY is not set (set it in the environment or .env, or use --dry-run)", nil, false)
	}
	return nil
}

// loadStructFromEnv recursively walks the struct and overrides fields from
// environment variables named after the upper-cased yaml tag path
// (e.g. SERENDIP_RETRY_MAX_RETRIES).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Map {
			if err := loadMapFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapFromEnv fills map[string]scalar fields. The map key is the lower-cased
// remainder of the variable name (SERENDIP_PLAN_AXIS_WEIGHTS_COLOR=2 sets axis_weights["color"]).
func loadMapFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.Type().Key().Kind() != reflect.String {
		return nil
	}
	elemType := mapField.Type().Elem()
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		elem := reflect.New(elemType).Elem()
		if err := setField(elem, parts[1]); err != nil {
			return fmt.Errorf("failed to set map entry '%s' from env var '%s': %w", parts[0], prefix+parts[0], err)
		}
		if mapField.IsNil() {
			mapField.Set(reflect.MakeMap(mapField.Type()))
		}
		mapField.SetMapIndex(reflect.ValueOf(strings.ToLower(parts[0])), elem)
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// Pointers are allocated and comma-separated values fill string slices.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.Ptr:
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
