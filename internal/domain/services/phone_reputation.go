package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/infrastructure/cache"
	"callguard/internal/providers"
	"callguard/pkg/logger"
)

// heuristic pattern weights; independent contributions that sum and
// clip to 1.0
const (
	weightSequentialDigits = 0.5
	weightRepeatedDigits   = 0.5
	weightTollFreePrefix   = 0.35
	weightGovernmentPrefix = 0.3
)

// a verdict at or above this confidence stops the escalation ladder
const highConfidenceVerdict = 0.9

// PhoneReputationChecker normalizes and classifies calling numbers
// using a local denylist, heuristic patterns, and optional external
// reputation providers. Check always returns a record; provider
// failures degrade silently to whatever the local steps built.
type PhoneReputationChecker struct {
	logger    *logger.Logger
	cfg       config.PhoneConfig
	providers []providers.Provider

	denyMu   sync.RWMutex
	denylist map[string]string // normalized number -> label

	redis *cache.RedisCache

	localMu    sync.RWMutex
	localCache map[string]*models.ReputationRecord
}

// NewPhoneReputationChecker builds the checker. redisCache may be nil;
// the checker then caches in process memory.
func NewPhoneReputationChecker(cfg config.PhoneConfig, redisCache *cache.RedisCache, provs []providers.Provider, log *logger.Logger) *PhoneReputationChecker {
	c := &PhoneReputationChecker{
		logger:     log.WithComponent("phone-reputation"),
		cfg:        cfg,
		denylist:   make(map[string]string),
		providers:  provs,
		redis:      redisCache,
		localCache: make(map[string]*models.ReputationRecord),
	}
	if c.cfg.CacheTTL == 0 {
		c.cfg.CacheTTL = time.Hour
	}
	c.loadDenylist(cfg.DenylistPath)
	return c
}

// builtinDenylist seeds the local database with known scam numbers
var builtinDenylist = map[string]string{
	"+18005551234": "fake tech support",
	"+18005554321": "fake tech support",
	"+19005550199": "premium rate fraud",
	"+12025550143": "government impersonation",
}

func (c *PhoneReputationChecker) loadDenylist(path string) {
	for number, label := range builtinDenylist {
		c.denylist[number] = label
	}

	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("denylist file unavailable, using built-in entries")
		return
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("denylist file unreadable, using built-in entries")
		return
	}
	for number, label := range entries {
		c.denylist[Normalize(number)] = label
	}
	c.logger.Info().Int("entries", len(c.denylist)).Msg("denylist loaded")
}

// Normalize converts a raw number to canonical international format.
// Malformed input still normalizes best-effort; never errors. The
// operation is idempotent.
func Normalize(number string) string {
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			b.WriteRune(r)
		} else if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	normalized := b.String()
	if strings.HasPrefix(normalized, "+") || len(normalized) < 10 {
		return normalized
	}

	// Bare 10-digit numbers are assumed US/Canada
	if len(normalized) == 10 {
		return "+1" + normalized
	}
	return "+" + normalized
}

// Check classifies a calling number. Steps run in increasing cost
// order; each only runs if the previous did not already yield a
// high-confidence verdict.
func (c *PhoneReputationChecker) Check(ctx context.Context, rawNumber string) *models.ReputationRecord {
	normalized := Normalize(rawNumber)

	if cached := c.cacheGet(ctx, normalized); cached != nil {
		return cached
	}

	rec := &models.ReputationRecord{
		Number:           rawNumber,
		NormalizedNumber: normalized,
		RiskLevel:        models.RiskSafe,
		CheckedAt:        time.Now(),
	}

	c.checkDenylist(normalized, rec)

	if rec.Confidence < highConfidenceVerdict {
		c.checkHeuristics(normalized, rec)
	}

	if rec.Confidence < highConfidenceVerdict {
		c.queryProviders(ctx, normalized, rec)
	}

	c.cachePut(ctx, normalized, rec)
	return rec
}

// checkDenylist is the O(1) local membership check
func (c *PhoneReputationChecker) checkDenylist(normalized string, rec *models.ReputationRecord) {
	c.denyMu.RLock()
	label, hit := c.denylist[normalized]
	c.denyMu.RUnlock()
	if !hit {
		return
	}
	rec.IsKnownBad = true
	rec.Confidence = 0.95
	rec.RiskLevel = models.RiskHigh
	rec.Sources = append(rec.Sources, "local_denylist")
	rec.Factors = append(rec.Factors, models.RiskFactor{
		Kind:       "known_scammer_number",
		Score:      0.95,
		Confidence: 0.95,
		Reasoning:  "number is in the local scam denylist",
		Evidence:   label,
	})
}

// checkHeuristics scans for structurally suspicious number shapes.
// Each pattern contributes an independent weight; the sum clips
// to 1.0.
func (c *PhoneReputationChecker) checkHeuristics(normalized string, rec *models.ReputationRecord) {
	digits := strings.TrimPrefix(normalized, "+")
	var total float64

	add := func(weight float64, kind, reasoning string) {
		total += weight
		rec.Factors = append(rec.Factors, models.RiskFactor{
			Kind:       kind,
			Score:      weight,
			Confidence: weight,
			Reasoning:  reasoning,
			Evidence:   normalized,
		})
	}

	if hasSequentialRun(digits, 5) {
		add(weightSequentialDigits, "sequential_digits", "number contains a long sequential digit run")
	}
	if hasRepeatedRun(digits, 5) {
		add(weightRepeatedDigits, "repeated_digits", "number contains a long repeated digit run")
	}
	for _, prefix := range []string{"+1800", "+1888", "+1877", "+1866", "+1855", "+1844", "+1833", "+1900"} {
		if strings.HasPrefix(normalized, prefix) {
			add(weightTollFreePrefix, "toll_free_prefix", "toll-free or premium prefix, common in impersonation calls")
			break
		}
	}
	for _, prefix := range []string{"+1202555", "+1844729"} {
		if strings.HasPrefix(normalized, prefix) {
			add(weightGovernmentPrefix, "government_area_code", "prefix mimics a government office exchange")
			break
		}
	}

	if total == 0 {
		return
	}
	if total > 1.0 {
		total = 1.0
	}

	if total > rec.Confidence {
		rec.Confidence = total
	}
	switch {
	case total > 0.7:
		rec.RiskLevel = rec.RiskLevel.Max(models.RiskHigh)
		rec.IsKnownBad = true
	case total > 0.4:
		rec.RiskLevel = rec.RiskLevel.Max(models.RiskMedium)
	}
	rec.Sources = append(rec.Sources, "heuristics")
}

// queryProviders consults every enabled external provider, each with
// its own timeout. Results merge by max confidence and unioned source
// labels; any failure is swallowed and logged.
func (c *PhoneReputationChecker) queryProviders(ctx context.Context, normalized string, rec *models.ReputationRecord) {
	for _, p := range c.providers {
		if !p.IsEnabled() {
			continue
		}

		timeout := p.Timeout()
		if timeout == 0 {
			timeout = c.cfg.ProviderTimeout
		}
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := p.Lookup(lookupCtx, normalized)
		cancel()

		if err != nil {
			c.logger.Warn().Err(err).Str("provider", p.Slug()).Str("number", normalized).
				Msg("reputation provider lookup failed")
			continue
		}

		rec.Sources = append(rec.Sources, p.Slug())
		if result.Confidence > rec.Confidence {
			rec.Confidence = result.Confidence
		}
		if result.IsBad {
			rec.IsKnownBad = true
			rec.RiskLevel = rec.RiskLevel.Max(providerLevel(result.Confidence))
			rec.Factors = append(rec.Factors, models.RiskFactor{
				Kind:       "provider_report",
				Score:      result.Confidence,
				Confidence: result.Confidence,
				Reasoning:  fmt.Sprintf("%s flagged this number", p.Name()),
				Evidence:   fmt.Sprintf("%d reports", result.ReportCount),
			})
		}
	}
}

func providerLevel(confidence float64) models.RiskLevel {
	switch {
	case confidence >= 0.7:
		return models.RiskHigh
	case confidence >= 0.4:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (c *PhoneReputationChecker) cacheGet(ctx context.Context, normalized string) *models.ReputationRecord {
	if c.redis != nil {
		var rec models.ReputationRecord
		if err := c.redis.GetJSON(ctx, "reputation:"+normalized, &rec); err == nil {
			return &rec
		}
		return nil
	}

	c.localMu.RLock()
	defer c.localMu.RUnlock()
	if rec, ok := c.localCache[normalized]; ok {
		if time.Since(rec.CheckedAt) < c.cfg.CacheTTL {
			return rec
		}
	}
	return nil
}

func (c *PhoneReputationChecker) cachePut(ctx context.Context, normalized string, rec *models.ReputationRecord) {
	if c.redis != nil {
		if err := c.redis.SetJSON(ctx, "reputation:"+normalized, rec, c.cfg.CacheTTL); err != nil {
			c.logger.Warn().Err(err).Msg("failed to cache reputation record")
		}
		return
	}

	c.localMu.Lock()
	defer c.localMu.Unlock()
	c.localCache[normalized] = rec
}

// AddDenylistEntry adds a number to the local denylist at runtime
func (c *PhoneReputationChecker) AddDenylistEntry(number, label string) {
	c.denyMu.Lock()
	defer c.denyMu.Unlock()
	c.denylist[Normalize(number)] = label
}

// hasSequentialRun reports a run of n consecutive ascending or
// descending digits
func hasSequentialRun(digits string, n int) bool {
	if len(digits) < n {
		return false
	}
	asc, desc := 1, 1
	for i := 1; i < len(digits); i++ {
		if digits[i] == digits[i-1]+1 {
			asc++
		} else {
			asc = 1
		}
		if digits[i] == digits[i-1]-1 {
			desc++
		} else {
			desc = 1
		}
		if asc >= n || desc >= n {
			return true
		}
	}
	return false
}

// hasRepeatedRun reports a run of n identical digits
func hasRepeatedRun(digits string, n int) bool {
	if len(digits) < n {
		return false
	}
	run := 1
	for i := 1; i < len(digits); i++ {
		if digits[i] == digits[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}
