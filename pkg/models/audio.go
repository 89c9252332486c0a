package models

// AudioSample is one buffered audio chunk handed to an audio-capable model
// engine, mirroring Frame's role for the video path.
type AudioSample struct {
	SampleRate string
	Channels   int
	PCM        []byte
}

// AudioResult is what an audio-capable engine returns: a transcription
// (Text/Language/Confidence/KeywordsDetected) or a sound classification
// (SoundClass/Confidence), depending on the engine behind the model ID.
type AudioResult struct {
	Text             string   `json:"text,omitempty"`
	Language         string   `json:"language,omitempty"`
	Confidence       float64  `json:"confidence"`
	KeywordsDetected []string `json:"keywords_detected,omitempty"`
	SoundClass       string   `json:"sound_class,omitempty"`
}
