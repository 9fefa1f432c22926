// Package cli loads retry configuration from ini or YAML files, merges it
// with command-line flags and drives a session of command-backed checks.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	ini "gopkg.in/ini.v1"
	yaml "gopkg.in/yaml.v3"

	"github.com/netresearch/flaky/config"
	"github.com/netresearch/flaky/report"
)

const (
	sectionRetry   = "retry"
	sectionMail    = "report-mail"
	sectionWebhook = "report-webhook"
	sectionCheck   = "check"
)

// CheckConfig declares one command-backed check. The pointer fields become
// the check's flaky marker; nil fields fall back to the session defaults.
type CheckConfig struct {
	Name             string   `mapstructure:"-" yaml:"-"`
	Command          string   `mapstructure:"command" yaml:"command"`
	Dir              string   `mapstructure:"dir" yaml:"dir"`
	Environment      []string `mapstructure:"environment" yaml:"environment"`
	Module           string   `mapstructure:"module" yaml:"module"`
	Retries          *int     `mapstructure:"retries" yaml:"retries"`
	Delay            *float64 `mapstructure:"delay" yaml:"delay"`
	Condition        *bool    `mapstructure:"condition" yaml:"condition"`
	CumulativeTiming *bool    `mapstructure:"cumulative-timing" yaml:"cumulative-timing"`
}

// FileConfig is the on-disk configuration.
type FileConfig struct {
	Retry   map[string]any
	Mail    *report.MailConfig
	Webhook *report.WebhookConfig
	Checks  []*CheckConfig
}

// LoadFile reads a configuration file, dispatching on the extension:
// .yaml/.yml is parsed as YAML, everything else as ini.
func LoadFile(filename string) (*FileConfig, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loadYAML(filename)
	default:
		return loadINI(filename)
	}
}

func loadINI(filename string) (*FileConfig, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true, InsensitiveKeys: true}, filename)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", filename, err)
	}

	fc := &FileConfig{}
	for _, sec := range cfg.Sections() {
		name := sec.Name()
		switch {
		case name == sectionRetry:
			fc.Retry = sectionValues(sec)
		case name == sectionMail:
			fc.Mail = &report.MailConfig{}
			if err := decodeWeak(sectionValues(sec), fc.Mail); err != nil {
				return nil, fmt.Errorf("section %q: %w", name, err)
			}
		case name == sectionWebhook:
			fc.Webhook = &report.WebhookConfig{}
			if err := decodeWeak(sectionValues(sec), fc.Webhook); err != nil {
				return nil, fmt.Errorf("section %q: %w", name, err)
			}
		case strings.HasPrefix(name, sectionCheck+" "):
			check := &CheckConfig{Name: strings.Trim(strings.TrimPrefix(name, sectionCheck+" "), `"`)}
			if err := decodeWeak(sectionValues(sec), check); err != nil {
				return nil, fmt.Errorf("section %q: %w", name, err)
			}
			fc.Checks = append(fc.Checks, check)
		}
	}
	return fc, nil
}

// sectionValues flattens an ini section, preserving shadowed values for the
// environment key so repeated lines accumulate.
func sectionValues(sec *ini.Section) map[string]any {
	values := make(map[string]any, len(sec.Keys()))
	for _, key := range sec.Keys() {
		if normalizeKey(key.Name()) == "environment" {
			values[key.Name()] = key.ValueWithShadows()
			continue
		}
		values[key.Name()] = key.Value()
	}
	return values
}

type yamlFile struct {
	Retry   map[string]any            `yaml:"retry"`
	Mail    map[string]any            `yaml:"report-mail"`
	Webhook map[string]any            `yaml:"report-webhook"`
	Checks  map[string]map[string]any `yaml:"checks"`
}

func loadYAML(filename string) (*FileConfig, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", filename, err)
	}

	var yf yamlFile
	if err := yaml.Unmarshal(raw, &yf); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", filename, err)
	}

	fc := &FileConfig{Retry: yf.Retry}
	if yf.Mail != nil {
		fc.Mail = &report.MailConfig{}
		if err := decodeWeak(yf.Mail, fc.Mail); err != nil {
			return nil, fmt.Errorf("section %q: %w", sectionMail, err)
		}
	}
	if yf.Webhook != nil {
		fc.Webhook = &report.WebhookConfig{}
		if err := decodeWeak(yf.Webhook, fc.Webhook); err != nil {
			return nil, fmt.Errorf("section %q: %w", sectionWebhook, err)
		}
	}

	names := make([]string, 0, len(yf.Checks))
	for name := range yf.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := &CheckConfig{Name: name}
		if err := decodeWeak(yf.Checks[name], check); err != nil {
			return nil, fmt.Errorf("check %q: %w", name, err)
		}
		fc.Checks = append(fc.Checks, check)
	}
	return fc, nil
}

// Resolve merges the built-in defaults, the config file's retry section and
// the command-line flags, later sources winning, and validates the result.
func Resolve(file *FileConfig, opts *Options) (*config.Settings, error) {
	settings, err := config.NewSettings()
	if err != nil {
		return nil, err
	}

	if file != nil && len(file.Retry) > 0 {
		if err := decodeWeak(file.Retry, settings); err != nil {
			return nil, fmt.Errorf("%w: retry section: %v", config.ErrConfiguration, err)
		}
	}

	if opts != nil {
		if opts.Retries != nil {
			settings.Retries = opts.Retries
		}
		if opts.RetryDelay != nil {
			settings.RetryDelay = *opts.RetryDelay
		}
		if opts.CumulativeTiming != nil {
			settings.CumulativeTiming = opts.CumulativeTiming
		}
		if opts.RetryOutcome != nil {
			settings.RetryOutcome = *opts.RetryOutcome
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// decodeWeak decodes a string-keyed map into a typed struct, coercing
// string values to the target types and matching keys regardless of case
// and separator style.
func decodeWeak(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		MatchName:        caseInsensitiveMatch,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// caseInsensitiveMatch matches map keys to struct fields case-insensitively
func caseInsensitiveMatch(mapKey, fieldName string) bool {
	return strings.EqualFold(normalizeKey(mapKey), normalizeKey(fieldName))
}

// normalizeKey normalizes a configuration key for comparison, accepting
// both kebab-case and underscore spellings.
func normalizeKey(key string) string {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "-", "")
	k = strings.ReplaceAll(k, "_", "")
	return k
}
