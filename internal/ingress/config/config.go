package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr  = ":8080"
	DefaultMetricsAddr = ":9090"
	DefaultDialTimeout = 10 * time.Second

	// A bare number decodes as nanoseconds, which no dial can meet.
	minDialTimeout = time.Millisecond

	ProxyRuleFileServer = "file"
	ProxyRuleRedirect   = "redirect"
)

type IngressConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Rules       []*RuleConfig `mapstructure:"rules"`

	configFile string
}

// RuleConfig describes one route rule. Rules are evaluated in declaration order and the
// single rule with an empty matcher catches everything the others did not.
type RuleConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	Matcher string `mapstructure:"matcher"`
	Target  string `mapstructure:"target"`

	// RewriteOrigin sends the upstream's host as the Host header instead of the inbound one.
	RewriteOrigin bool `mapstructure:"rewrite_origin"`

	// InsecureSkipVerify disables certificate verification towards the upstream.
	// Only meant for local testing against self-signed upstreams.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

func (r *RuleConfig) IsFallback() bool {
	return r.Matcher == ""
}

func (r *RuleConfig) VerifyUpstreamIdentity() bool {
	return !r.InsecureSkipVerify
}

// ConfigFile reports the file the config was read from, or "" when only defaults,
// environment and flags were used.
func (c *IngressConfig) ConfigFile() string {
	return c.configFile
}

func defaultRules() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":           "backend",
			"type":           ProxyRuleRedirect,
			"matcher":        "/api",
			"target":         "http://localhost:5050/api",
			"rewrite_origin": true,
		},
		{
			"name":           "frontend",
			"type":           ProxyRuleRedirect,
			"matcher":        "",
			"target":         "http://localhost:3000",
			"rewrite_origin": true,
		},
	}
}

func loadEnv(v *viper.Viper) error {
	v.SetEnvPrefix("ingress")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"listen_addr", "metrics_addr", "log_level", "log_format", "dial_timeout"} {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("metrics_addr", DefaultMetricsAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("dial_timeout", DefaultDialTimeout.String())
	v.SetDefault("rules", defaultRules())
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}

	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.ingress")
	v.SetConfigType("yml")
	v.SetConfigName("ingress")

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// NewIngressConfig loads the configuration from defaults, an optional YAML file, INGRESS_*
// environment variables and any flags already bound to v, then validates it.
func NewIngressConfig(v *viper.Viper, path string) (*IngressConfig, error) {
	if err := loadEnv(v); err != nil {
		return nil, err
	}
	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	var config IngressConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	config.configFile = v.ConfigFileUsed()
	config.applyRuleDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Debug().Msgf("Loaded ingress config: %+v", config)
	return &config, nil
}

func (c *IngressConfig) applyRuleDefaults() {
	for i, rule := range c.Rules {
		if rule == nil {
			continue
		}
		if rule.Type == "" {
			rule.Type = ProxyRuleRedirect
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i)
		}
	}
}

// Validate reports every problem with the config at once.
func (c *IngressConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.DialTimeout < minDialTimeout {
		errs = append(errs, fmt.Errorf("dial_timeout must be at least %s, got %s", minDialTimeout, c.DialTimeout))
	}
	if len(c.Rules) == 0 {
		errs = append(errs, errors.New("at least one rule is required"))
		return errors.Join(errs...)
	}

	names := make(map[string]bool, len(c.Rules))
	fallbacks := 0
	for i, rule := range c.Rules {
		if rule == nil {
			errs = append(errs, fmt.Errorf("rule %d is empty", i))
			continue
		}
		if names[rule.Name] {
			errs = append(errs, fmt.Errorf("rule name %s is already taken", rule.Name))
		}
		names[rule.Name] = true

		if rule.IsFallback() {
			fallbacks++
			if i != len(c.Rules)-1 {
				errs = append(errs, fmt.Errorf("fallback rule %s must be the last rule", rule.Name))
			}
		} else if !strings.HasPrefix(rule.Matcher, "/") {
			errs = append(errs, fmt.Errorf("rule %s: matcher %q must start with /", rule.Name, rule.Matcher))
		}

		switch rule.Type {
		case ProxyRuleRedirect:
			if err := validateTarget(rule.Target); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			}
		case ProxyRuleFileServer:
			if rule.Target == "" {
				errs = append(errs, fmt.Errorf("rule %s: file rules need a directory target", rule.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("rule %s: unknown rule type %q", rule.Name, rule.Type))
		}
	}

	if fallbacks != 1 {
		errs = append(errs, fmt.Errorf("exactly one fallback rule with an empty matcher is required, found %d", fallbacks))
	}
	return errors.Join(errs...)
}

func validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target %q must use http or https", target)
	}
	if u.Host == "" {
		return fmt.Errorf("target %q has no host", target)
	}
	return nil
}
