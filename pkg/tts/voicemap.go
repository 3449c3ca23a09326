package tts

import "github.com/voicemode/voicemode/pkg/provider"

// openAIVoiceRemap maps non-native voice names to OpenAI's fixed voice set,
// per spec.md §4.6: local non-OpenAI endpoints pass the request voice
// through untouched; OpenAI endpoints get remapped.
var openAIVoiceRemap = map[provider.Voice]provider.Voice{
	"af_sky":   "nova",
	"af_sarah": "nova",
	"am_adam":  "onyx",
	"am_echo":  "echo",
	"bf_emma":  "shimmer",
	"bm_george": "onyx",
}

// RemapVoiceForOpenAI returns the OpenAI-native voice name for v, or v
// unchanged if it is already native or has no mapping.
func RemapVoiceForOpenAI(v provider.Voice) provider.Voice {
	if mapped, ok := openAIVoiceRemap[v]; ok {
		return mapped
	}
	return v
}

// IsOpenAIModel reports whether model names an OpenAI TTS model, used to
// decide whether RemapVoiceForOpenAI applies.
func IsOpenAIModel(model string) bool {
	switch model {
	case "tts-1", "tts-1-hd", "gpt-4o-mini-tts":
		return true
	default:
		return false
	}
}
