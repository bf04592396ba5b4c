package media

import "context"

// TranscriptKind distinguishes the degraded outcomes of best-effort audio
// transcription. Every kind other than TranscriptOK downgrades the analysis
// to a vision-only path; none of them fail the request.
type TranscriptKind int

const (
	// TranscriptOK means usable speech text was produced.
	TranscriptOK TranscriptKind = iota
	// TranscriptSilent means extraction produced no audio track at all.
	TranscriptSilent
	// TranscriptTooShort means audio exists but is below the minimum
	// size/duration threshold worth transcribing.
	TranscriptTooShort
	// TranscriptEmpty means speech-to-text ran but produced no text.
	TranscriptEmpty
	// TranscriptFailed means the transcription call itself failed.
	TranscriptFailed
)

func (k TranscriptKind) String() string {
	switch k {
	case TranscriptOK:
		return "ok"
	case TranscriptSilent:
		return "silent"
	case TranscriptTooShort:
		return "too_short"
	case TranscriptEmpty:
		return "empty"
	case TranscriptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transcript is the tagged outcome of the transcription ladder. Callers
// switch on Kind; Text is set only for TranscriptOK and Err only for
// TranscriptFailed.
type Transcript struct {
	Kind TranscriptKind
	Text string
	Err  error
}

// Usable reports whether Text can feed an audio-aware analysis.
func (t Transcript) Usable() bool {
	return t.Kind == TranscriptOK && t.Text != ""
}

// Transcriber converts an audio file into text. Implementations sit at the
// external speech-to-text boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
