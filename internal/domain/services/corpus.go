package services

import (
	"encoding/json"
	"os"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// Corpus is the immutable in-memory reference database of known attack
// metadata. Built once at startup; safe for unsynchronized concurrent
// reads across all sessions.
type Corpus struct {
	logger *logger.Logger

	entries []models.CorpusEntry

	keywords []string
	phrases  []string
	// one trie over keywords+phrases, index < len(keywords) is a keyword
	lexicon *ahocorasick.Trie

	referenceTexts  []string
	referenceTokens []map[string]struct{}

	targetedSpeakers map[string]struct{}
	vcSources        map[string]struct{}
}

// defaultScamKeywords backs the lexicon when the corpus file does not
// carry its own keyword list
var defaultScamKeywords = []string{
	"gift card", "wire transfer", "social security", "irs", "warrant",
	"bitcoin", "western union", "moneygram", "arrest", "lawsuit",
	"refund", "virus detected", "remote access", "verification code",
	"account suspended", "prize", "lottery", "inheritance",
}

var defaultSuspiciousPhrases = []string{
	"act now", "do not hang up", "do not tell anyone", "stay on the line",
	"this is your final notice", "you have been selected",
	"confirm your identity", "read me the code", "pay immediately",
}

// NewCorpus loads the reference database from the configured path. A
// missing or unreadable corpus degrades to an empty one with a startup
// warning; it never blocks startup.
func NewCorpus(cfg config.CorpusConfig, log *logger.Logger) *Corpus {
	c := &Corpus{
		logger:           log.WithComponent("pattern-corpus"),
		targetedSpeakers: make(map[string]struct{}),
		vcSources:        make(map[string]struct{}),
	}

	file, err := loadCorpusFile(cfg.Path)
	if err != nil {
		// No corpus means no lexicon either: every pattern check must
		// come back SAFE, not fire on a built-in keyword list
		c.logger.Warn().Err(&models.CorpusLoadError{Path: cfg.Path, Err: err}).
			Msg("reference corpus unavailable, pattern checks will return SAFE")
		return c
	}

	c.build(file, cfg)

	c.logger.Info().
		Int("entries", len(c.entries)).
		Int("keywords", len(c.keywords)).
		Int("reference_texts", len(c.referenceTexts)).
		Int("targeted_speakers", len(c.targetedSpeakers)).
		Int("vc_sources", len(c.vcSources)).
		Msg("reference corpus loaded")

	return c
}

func loadCorpusFile(path string) (*models.CorpusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file models.CorpusFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func (c *Corpus) build(file *models.CorpusFile, cfg config.CorpusConfig) {
	c.entries = file.Entries

	c.keywords = file.ScamKeywords
	if len(c.keywords) == 0 {
		c.keywords = defaultScamKeywords
	}
	c.phrases = file.SuspiciousPhrases
	if len(c.phrases) == 0 {
		c.phrases = defaultSuspiciousPhrases
	}

	patterns := make([]string, 0, len(c.keywords)+len(c.phrases))
	for _, k := range c.keywords {
		patterns = append(patterns, strings.ToLower(k))
	}
	for _, p := range c.phrases {
		patterns = append(patterns, strings.ToLower(p))
	}
	c.lexicon = ahocorasick.NewTrieBuilder().AddStrings(patterns).Build()

	threshold := cfg.TargetedSpeakerThreshold
	if threshold <= 0 {
		threshold = 3
	}

	attackCounts := make(map[string]int)
	for _, e := range file.Entries {
		if e.AttackType == models.AttackBonafide {
			continue
		}
		if e.ReferenceText != "" {
			c.referenceTexts = append(c.referenceTexts, e.ReferenceText)
			c.referenceTokens = append(c.referenceTokens, tokenSet(e.ReferenceText))
		}
		if e.TargetSpeaker != "" {
			attackCounts[e.TargetSpeaker]++
		}
		if e.VoiceConversionSource != "" {
			c.vcSources[e.VoiceConversionSource] = struct{}{}
		}
	}

	for speaker, count := range attackCounts {
		if count >= threshold {
			c.targetedSpeakers[speaker] = struct{}{}
		}
	}
}

// LexiconMatch is a keyword or phrase hit in a transcript
type LexiconMatch struct {
	Text     string
	IsPhrase bool
}

// MatchLexicon scans text against the scam keyword and suspicious
// phrase lists, case-insensitive, returning each pattern at most once
func (c *Corpus) MatchLexicon(text string) []LexiconMatch {
	if c.lexicon == nil || text == "" {
		return nil
	}

	seen := make(map[int64]struct{})
	var matches []LexiconMatch
	for _, m := range c.lexicon.MatchString(strings.ToLower(text)) {
		idx := m.Pattern()
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		if int(idx) < len(c.keywords) {
			matches = append(matches, LexiconMatch{Text: c.keywords[idx]})
		} else {
			matches = append(matches, LexiconMatch{Text: c.phrases[int(idx)-len(c.keywords)], IsPhrase: true})
		}
	}
	return matches
}

// SimilarReferences counts reference texts whose token overlap with
// text exceeds the given Jaccard similarity threshold
func (c *Corpus) SimilarReferences(text string, threshold float64) int {
	if text == "" || len(c.referenceTokens) == 0 {
		return 0
	}

	tokens := tokenSet(text)
	if len(tokens) == 0 {
		return 0
	}

	count := 0
	for _, ref := range c.referenceTokens {
		if jaccard(tokens, ref) > threshold {
			count++
		}
	}
	return count
}

// IsTargetedSpeaker reports whether the speaker id appears in the
// frequently-targeted set
func (c *Corpus) IsTargetedSpeaker(speaker string) bool {
	_, ok := c.targetedSpeakers[speaker]
	return ok
}

// IsVoiceConversionSource reports whether the speaker id is a known
// voice-conversion source
func (c *Corpus) IsVoiceConversionSource(speaker string) bool {
	_, ok := c.vcSources[speaker]
	return ok
}

// Empty reports whether the corpus carries no attack entries
func (c *Corpus) Empty() bool {
	return len(c.entries) == 0
}

// Size returns the number of corpus entries
func (c *Corpus) Size() int {
	return len(c.entries)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// jaccard computes |intersection| / |union| of two token sets
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
