package loadrules

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

type Rules []Rule

// Rule sets load defaults for the requests it matches.
// All non-empty matchers must match; the first matching rule wins.
type Rule struct {
	// Glob over the full URL, e.g. `https://*.example.com/**`.
	Pattern string `yaml:"pattern"`
	// Prefix of the URL path.
	Prefix string            `yaml:"prefix"`
	Method string            `yaml:"method"`
	Query  map[string]string `yaml:"query"`

	TreatHTTPErrorsAsFailures bool `yaml:"treatHTTPErrorsAsFailures"`
	// Store the response body under a key derived from the request.
	Cache bool `yaml:"cache"`

	compiled glob.Glob
}

// Defaults are the load options a rule contributes.
type Defaults struct {
	TreatHTTPErrorsAsFailures bool
	Cache                     bool
}

// Compile checks and compiles the URL patterns. It must be called once after loading.
func (r Rules) Compile() error {
	for i := range r {
		if r[i].Pattern == "" {
			continue
		}
		// '/' separates segments so `*` stays within one
		g, err := glob.Compile(r[i].Pattern, '/')
		if err != nil {
			return fmt.Errorf("rule %d: invalid pattern %q: %w", i, r[i].Pattern, err)
		}
		r[i].compiled = g
	}
	return nil
}

// Apply returns the defaults for a request, and whether any rule matched.
func (r Rules) Apply(method, rawURL string) (Defaults, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		log.Trace().Err(err).Str("url", rawURL).Msg("Not applying rules to unparsable URL")
		return Defaults{}, false
	}
	if method == "" {
		method = http.MethodGet
	}
	if rule := r.find(method, rawURL, u); rule != nil {
		return Defaults{
			TreatHTTPErrorsAsFailures: rule.TreatHTTPErrorsAsFailures,
			Cache:                     rule.Cache,
		}, true
	}
	return Defaults{}, false
}

func (r Rules) find(method, rawURL string, u *url.URL) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", method, rawURL)
rulesLoop:
	for i, rule := range r {
		if rule.Method == "" && method != http.MethodGet {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if rule.Pattern != "" && (rule.compiled == nil || !rule.compiled.Match(rawURL)) {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(u.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := u.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		log.Trace().Msgf("Matched rule %+v", rule)
		return &r[i]
	}
	return nil
}
