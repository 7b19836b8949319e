package model

// DefaultMaxRetained is the record cap used when settings do not set one.
const DefaultMaxRetained = 50

// Settings is the global notification configuration the user can change at
// runtime. A category missing from Categories is enabled.
type Settings struct {
	Categories    map[Category]bool `json:"categories"`
	NativeEnabled bool              `json:"native_enabled"`
	InAppEnabled  bool              `json:"in_app_enabled"`
	SoundEnabled  bool              `json:"sound_enabled"`
	NudgesEnabled bool              `json:"nudges_enabled"`
	MaxRetained   int               `json:"max_retained"`
}

func DefaultSettings() Settings {
	return Settings{
		Categories:    map[Category]bool{},
		NativeEnabled: true,
		InAppEnabled:  true,
		SoundEnabled:  true,
		NudgesEnabled: true,
		MaxRetained:   DefaultMaxRetained,
	}
}

// CategoryEnabled returns true by default if no preference exists.
func (s Settings) CategoryEnabled(c Category) bool {
	enabled, ok := s.Categories[c]
	if !ok {
		return true
	}
	return enabled
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	Categories    map[Category]bool `json:"categories,omitempty"`
	NativeEnabled *bool             `json:"native_enabled,omitempty"`
	InAppEnabled  *bool             `json:"in_app_enabled,omitempty"`
	SoundEnabled  *bool             `json:"sound_enabled,omitempty"`
	NudgesEnabled *bool             `json:"nudges_enabled,omitempty"`
	MaxRetained   *int              `json:"max_retained,omitempty"`
}

// Apply returns s with the patch applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	cats := make(map[Category]bool, len(s.Categories)+len(p.Categories))
	for k, v := range s.Categories {
		cats[k] = v
	}
	for k, v := range p.Categories {
		cats[k] = v
	}
	s.Categories = cats
	if p.NativeEnabled != nil {
		s.NativeEnabled = *p.NativeEnabled
	}
	if p.InAppEnabled != nil {
		s.InAppEnabled = *p.InAppEnabled
	}
	if p.SoundEnabled != nil {
		s.SoundEnabled = *p.SoundEnabled
	}
	if p.NudgesEnabled != nil {
		s.NudgesEnabled = *p.NudgesEnabled
	}
	if p.MaxRetained != nil {
		s.MaxRetained = *p.MaxRetained
	}
	return s
}
