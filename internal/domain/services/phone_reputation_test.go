package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

func newTestChecker(t *testing.T) *PhoneReputationChecker {
	t.Helper()
	return NewPhoneReputationChecker(config.PhoneConfig{CacheTTL: time.Hour}, nil, nil, logger.Nop())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"formatted us number", "(415) 555-0123", "+14155550123"},
		{"already canonical", "+14155550123", "+14155550123"},
		{"with country code no plus", "18005551234", "+18005551234"},
		{"international", "+44 20 7946 0958", "+442079460958"},
		{"short code stays bare", "911", "911"},
		{"dashes and dots", "1-800-555.1234", "+18005551234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Normalize(got); again != got {
				t.Errorf("Normalize not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestCheckDenylist(t *testing.T) {
	c := newTestChecker(t)

	rec := c.Check(context.Background(), "1-800-555-1234")
	if !rec.IsKnownBad {
		t.Fatal("denylisted number not flagged")
	}
	if rec.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", rec.Confidence)
	}
	if rec.RiskLevel != models.RiskHigh {
		t.Errorf("level = %v, want HIGH", rec.RiskLevel)
	}
	if len(rec.Factors) != 1 || rec.Factors[0].Kind != "known_scammer_number" {
		t.Errorf("factors = %+v, want single known_scammer_number", rec.Factors)
	}
	// high-confidence verdict stops the ladder
	if len(rec.Sources) != 1 || rec.Sources[0] != "local_denylist" {
		t.Errorf("sources = %v, want [local_denylist]", rec.Sources)
	}
}

func TestCheckHeuristics(t *testing.T) {
	tests := []struct {
		name      string
		number    string
		wantLevel models.RiskLevel
		wantBad   bool
		wantConf  float64
	}{
		// sequential run + toll-free prefix: 0.5 + 0.35
		{"sequential toll free", "+18882345678", models.RiskHigh, true, 0.85},
		// sequential run only
		{"sequential", "+15551234567", models.RiskMedium, false, 0.5},
		// repeated run only
		{"repeated", "+12227777777", models.RiskMedium, false, 0.5},
		// nothing structurally suspicious
		{"clean", "+14155550123", models.RiskSafe, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(t)
			rec := c.Check(context.Background(), tt.number)
			if rec.RiskLevel != tt.wantLevel {
				t.Errorf("level = %v, want %v", rec.RiskLevel, tt.wantLevel)
			}
			if rec.IsKnownBad != tt.wantBad {
				t.Errorf("isKnownBad = %v, want %v", rec.IsKnownBad, tt.wantBad)
			}
			if diff := rec.Confidence - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", rec.Confidence, tt.wantConf)
			}
		})
	}
}

func TestCheckCaching(t *testing.T) {
	c := newTestChecker(t)

	first := c.Check(context.Background(), "+14155550123")
	second := c.Check(context.Background(), "+14155550123")
	if !first.CheckedAt.Equal(second.CheckedAt) {
		t.Error("second check did not hit the cache")
	}
}

func TestAddDenylistEntry(t *testing.T) {
	c := newTestChecker(t)

	before := c.Check(context.Background(), "+16505550111")
	if before.IsKnownBad {
		t.Fatal("number flagged before denylisting")
	}

	c.AddDenylistEntry("650-555-0222", "reported scammer")
	rec := c.Check(context.Background(), "+16505550222")
	if !rec.IsKnownBad || rec.Confidence != 0.95 {
		t.Errorf("runtime denylist entry not applied: %+v", rec)
	}
}

func TestDenylistConcurrentUpdates(t *testing.T) {
	c := newTestChecker(t)
	ctx := context.Background()

	// denylist updates land while checks for distinct numbers run
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		number := fmt.Sprintf("+1650555%04d", i)
		go func() {
			defer wg.Done()
			c.AddDenylistEntry(number, "reported scammer")
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Check(ctx, number)
			}
		}()
	}
	wg.Wait()

	// bypass the record cache: Check may have cached a clean verdict
	// before the matching add landed
	for i := 0; i < 8; i++ {
		number := fmt.Sprintf("+1650555%04d", i)
		rec := &models.ReputationRecord{}
		c.checkDenylist(number, rec)
		if !rec.IsKnownBad {
			t.Errorf("%s missing from denylist after concurrent adds", number)
		}
	}
}

func TestDigitRuns(t *testing.T) {
	if !hasSequentialRun("12345", 5) {
		t.Error("ascending run not detected")
	}
	if !hasSequentialRun("98765", 5) {
		t.Error("descending run not detected")
	}
	if hasSequentialRun("13579", 5) {
		t.Error("non-consecutive digits detected as run")
	}
	if !hasRepeatedRun("77777", 5) {
		t.Error("repeated run not detected")
	}
	if hasRepeatedRun("7777", 5) {
		t.Error("short repeated run detected")
	}
}
