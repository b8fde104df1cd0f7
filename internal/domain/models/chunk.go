package models

// AudioChunk is one slice of call audio plus whatever transcript and
// speaker metadata the telephony collaborator attached to it
type AudioChunk struct {
	Seq           int    `json:"seq"`
	Audio         []byte `json:"audio,omitempty"`
	Transcript    string `json:"transcript,omitempty"`
	Span          string `json:"span,omitempty"`
	Speaker       string `json:"speaker,omitempty"`
	TargetSpeaker string `json:"target_speaker,omitempty"`
	SourceSpeaker string `json:"source_speaker,omitempty"`
}

// HasSignal reports whether the chunk carries anything a detector
// can work with
func (c AudioChunk) HasSignal() bool {
	return len(c.Audio) > 0 || c.Transcript != "" || c.Speaker != "" ||
		c.TargetSpeaker != "" || c.SourceSpeaker != ""
}
