package reverse_proxy

import (
	"fmt"
	"net/url"
	"time"

	"github.com/eagraf/bookstore-ingress/internal/ingress/config"
	"github.com/rs/zerolog"
)

func getHandlerFromRule(rule *config.RuleConfig, dialTimeout time.Duration) (RuleHandler, error) {
	switch rule.Type {
	case config.ProxyRuleRedirect, "":
		target, err := url.Parse(rule.Target)
		if err != nil {
			return nil, fmt.Errorf("error parsing target URL %s: %w", rule.Target, err)
		}
		return &RedirectRule{
			Matcher:            rule.Matcher,
			ForwardLocation:    target,
			RewriteOrigin:      rule.RewriteOrigin,
			InsecureSkipVerify: rule.InsecureSkipVerify,
			DialTimeout:        dialTimeout,
		}, nil
	case config.ProxyRuleFileServer:
		return &FileServerRule{
			Matcher: rule.Matcher,
			Path:    rule.Target,
		}, nil
	default:
		return nil, fmt.Errorf("unknown proxy rule type %s", rule.Type)
	}
}

// NewRuleSetFromConfig builds the rule set in the order the rules were declared.
func NewRuleSetFromConfig(cfg *config.IngressConfig, logger *zerolog.Logger) (*RuleSet, error) {
	rules := NewRuleSet()
	for _, rule := range cfg.Rules {
		handler, err := getHandlerFromRule(rule, cfg.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		if err := rules.Add(rule.Name, handler); err != nil {
			return nil, err
		}

		if _, ok := handler.(*RedirectRule); ok && !rule.VerifyUpstreamIdentity() {
			logger.Warn().
				Str("rule", rule.Name).
				Str("upstream", rule.Target).
				Msg("upstream certificate verification is disabled; only use this against local test upstreams")
		}
		logger.Info().Msgf("Registered proxy rule %s: %q -> %s", rule.Name, rule.Matcher, handler.Upstream())
	}
	return rules, nil
}
