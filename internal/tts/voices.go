package tts

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// VoicePreset adjusts one VOICEVOX voice.
type VoicePreset struct {
	Name string `toml:"name"`
	// SpeedMultiplier applies when the job sets no speed for the speaker.
	SpeedMultiplier float64 `toml:"speed_multiplier"`
}

// VoiceTable is the parsed voices.toml.
type VoiceTable struct {
	Voices []VoicePreset `toml:"voice"`
}

const defaultVoices = `
[[voice]]
name = "九州そら"
speed_multiplier = 1.2
`

// DefaultVoices returns the built-in preset table.
func DefaultVoices() VoiceTable {
	var t VoiceTable
	if err := toml.Unmarshal([]byte(defaultVoices), &t); err != nil {
		panic(fmt.Sprintf("built-in voice table: %v", err))
	}
	return t
}

// LoadVoices reads a voice table; an empty path yields the defaults.
func LoadVoices(path string) (VoiceTable, error) {
	if path == "" {
		return DefaultVoices(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return VoiceTable{}, fmt.Errorf("read voice table: %w", err)
	}
	var t VoiceTable
	if err := toml.Unmarshal(raw, &t); err != nil {
		return VoiceTable{}, fmt.Errorf("parse voice table %s: %w", path, err)
	}
	return t, nil
}

// Multiplier returns the preset speed multiplier for a voice name, or 1.
func (t VoiceTable) Multiplier(name string) float64 {
	for _, v := range t.Voices {
		if v.Name == name && v.SpeedMultiplier > 0 {
			return v.SpeedMultiplier
		}
	}
	return 1.0
}
