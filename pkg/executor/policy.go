package executor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/time/rate"
)

// Script policy errors. All of them are reported with kind script_denied.
var (
	ErrScriptDisabled    = errors.New("evaluate_js is disabled")
	ErrScriptHost        = errors.New("evaluate_js is not allowed on this host")
	ErrScriptRateLimited = errors.New("evaluate_js rate limit exceeded")
	ErrScriptUnsupported = errors.New("the page does not support script evaluation")
)

// ScriptPolicyConfig configures evaluate_js.
type ScriptPolicyConfig struct {
	Enabled bool

	// AllowedHosts are glob patterns matched against the page host. Empty
	// allows every host not denied.
	AllowedHosts []string
	DeniedHosts  []string

	// RatePerSecond and Burst limit evaluations across all sessions. Zero
	// disables the limit.
	RatePerSecond float64
	Burst         int
}

// ScriptPolicy decides whether a script may run on a page.
type ScriptPolicy struct {
	enabled bool
	allowed []glob.Glob
	denied  []glob.Glob
	limiter *rate.Limiter
}

// NewScriptPolicy compiles the host patterns.
func NewScriptPolicy(cfg ScriptPolicyConfig) (*ScriptPolicy, error) {
	p := &ScriptPolicy{enabled: cfg.Enabled}

	for _, pattern := range cfg.AllowedHosts {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed host pattern '%s': %w", pattern, err)
		}
		p.allowed = append(p.allowed, g)
	}
	for _, pattern := range cfg.DeniedHosts {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid denied host pattern '%s': %w", pattern, err)
		}
		p.denied = append(p.denied, g)
	}

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return p, nil
}

// AllowAll returns an enabled policy with no restrictions.
func AllowAll() *ScriptPolicy {
	return &ScriptPolicy{enabled: true}
}

// Check reports whether a script may run on the page at pageURL. A passing
// check consumes one token of the rate limit.
func (p *ScriptPolicy) Check(pageURL string) error {
	if p == nil || !p.enabled {
		return ErrScriptDisabled
	}
	if !p.hostAllowed(pageURL) {
		return fmt.Errorf("%w: %s", ErrScriptHost, pageURL)
	}
	if p.limiter != nil && !p.limiter.Allow() {
		return ErrScriptRateLimited
	}
	return nil
}

func (p *ScriptPolicy) hostAllowed(pageURL string) bool {
	if len(p.allowed) == 0 && len(p.denied) == 0 {
		return true
	}
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	// Denied patterns take precedence
	for _, g := range p.denied {
		if g.Match(host) {
			return false
		}
	}
	if len(p.allowed) == 0 {
		return true
	}
	for _, g := range p.allowed {
		if g.Match(host) {
			return true
		}
	}
	return false
}
