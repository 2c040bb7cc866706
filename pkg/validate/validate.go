package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/types"
)

// MaxQueryLength is the inclusive upper bound on query length in characters,
// not bytes.
const MaxQueryLength = 10000

// attackPatterns are matched case-insensitively against the query; the
// first match fails the request with kind "security".
var attackPatterns = []*regexp.Regexp{
	// Script injection markers
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)onerror\s*=`),
	regexp.MustCompile(`(?i)onclick\s*=`),
	regexp.MustCompile(`(?i)javascript:`),
	// SQL markers
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)delete\s+from`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`(?i)'\s*or\s*'1'\s*=\s*'1`),
	// Path traversal
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`\.\.\\`),
	regexp.MustCompile(`(?i)/etc/(passwd|shadow)`),
	// Command chaining
	regexp.MustCompile(`;\s*rm\s+-rf`),
	regexp.MustCompile(`\|\s*cat\s`),
	regexp.MustCompile(`&&`),
	regexp.MustCompile("`[^`]*`"),
}

// Validator applies the synchronous check pipeline to incoming requests.
// Whitelists are fixed at construction from the configured providers.
type Validator struct {
	models    map[string]struct{}
	providers map[string]struct{}
	// providerModels restricts models per provider when a hint is given.
	providerModels map[string]map[string]struct{}
	logger         zerolog.Logger
}

// New builds a validator from the configured provider specs.
func New(specs []types.ProviderSpec) *Validator {
	v := &Validator{
		models:         make(map[string]struct{}),
		providers:      make(map[string]struct{}),
		providerModels: make(map[string]map[string]struct{}),
		logger:         log.WithComponent("validator"),
	}
	for _, spec := range specs {
		name := strings.ToLower(spec.Name)
		v.providers[name] = struct{}{}
		pm := make(map[string]struct{}, len(spec.Models))
		for _, m := range spec.Models {
			v.models[m] = struct{}{}
			pm[m] = struct{}{}
		}
		v.providerModels[name] = pm
	}
	return v
}

// Validate checks the request in place. The provider hint is normalized to
// lowercase. Returns a typed error of kind validation or security.
func (v *Validator) Validate(req *types.Request) *types.Error {
	if err := v.validateQuery(req); err != nil {
		return err
	}
	if err := v.validateProvider(req); err != nil {
		return err
	}
	return v.validateModel(req)
}

func (v *Validator) validateQuery(req *types.Request) *types.Error {
	trimmed := strings.TrimSpace(req.Query)
	if trimmed == "" {
		return types.NewError(types.ErrValidation, "query must not be empty")
	}
	if n := utf8.RuneCountInString(req.Query); n > MaxQueryLength {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength)).
			WithDetail("length", n)
	}
	for _, pattern := range attackPatterns {
		if pattern.MatchString(req.Query) {
			v.logSecurityEvent(req, "query", req.Query)
			return types.NewError(types.ErrSecurity, "query contains a disallowed pattern")
		}
	}
	return nil
}

func (v *Validator) validateProvider(req *types.Request) *types.Error {
	if req.Provider == "" {
		return nil
	}
	req.Provider = strings.ToLower(req.Provider)
	if _, ok := v.providers[req.Provider]; !ok {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown provider %q", req.Provider))
	}
	return nil
}

func (v *Validator) validateModel(req *types.Request) *types.Error {
	if req.Model == "" {
		return types.NewError(types.ErrValidation, "model must not be empty")
	}
	if _, ok := v.models[req.Model]; !ok {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown model %q", req.Model))
	}
	if req.Provider != "" {
		if _, ok := v.providerModels[req.Provider][req.Model]; !ok {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("model %q is not served by provider %q", req.Model, req.Provider))
		}
	}
	return nil
}

// logSecurityEvent records the user and the first 100 characters of the
// offending field.
func (v *Validator) logSecurityEvent(req *types.Request, field, value string) {
	if runes := []rune(value); len(runes) > 100 {
		value = string(runes[:100])
	}
	v.logger.Warn().
		Str("thread_id", req.ThreadID).
		Str("user_id", req.UserID).
		Str("field", field).
		Str("prefix", value).
		Msg("security validation failure")
}
