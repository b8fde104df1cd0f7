package models

// AttackType classifies a corpus entry's attack technique
type AttackType string

const (
	AttackBonafide  AttackType = "bonafide"
	AttackTTS       AttackType = "tts"
	AttackVC        AttackType = "vc"
	AttackSynthetic AttackType = "synthetic"
	AttackReplay    AttackType = "replay"
	AttackSpoof     AttackType = "spoof"
)

// CorpusEntry is one record of known attack metadata. The corpus is
// loaded once at startup and read-only for the process lifetime.
type CorpusEntry struct {
	ID                    string     `json:"id"`
	Track                 string     `json:"track"`
	TargetSpeaker         string     `json:"target_speaker,omitempty"`
	ReferenceText         string     `json:"reference_text,omitempty"`
	VoiceConversionSource string     `json:"voice_conversion_source,omitempty"`
	AttackType            AttackType `json:"attack_type"`
}

// CorpusFile is the on-disk shape of the reference database
type CorpusFile struct {
	Entries           []CorpusEntry `json:"entries"`
	ScamKeywords      []string      `json:"scam_keywords,omitempty"`
	SuspiciousPhrases []string      `json:"suspicious_phrases,omitempty"`
}
