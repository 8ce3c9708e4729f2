package service

import (
	"context"
	"errors"
	"fmt"

	"agrisync/internal/database"
	"agrisync/internal/domain"
	"agrisync/internal/models"
)

const (
	prefKeyTheme    = "pref.theme"
	prefKeyLanguage = "pref.language"
)

var ErrUnknownTheme = errors.New("unknown theme")

// PreferenceService stores UI preferences locally. Preferences never touch
// the backend and survive sign-out.
type PreferenceService struct {
	store domain.SessionStore
}

func NewPreferenceService(store domain.SessionStore) *PreferenceService {
	return &PreferenceService{store: store}
}

func (p *PreferenceService) Theme(ctx context.Context) (string, error) {
	v, err := p.store.GetPreference(ctx, prefKeyTheme)
	if errors.Is(err, database.ErrNotFound) {
		return models.ThemeSystem, nil
	}
	if err != nil {
		return "", fmt.Errorf("get theme: %w", err)
	}
	return v, nil
}

func (p *PreferenceService) SetTheme(ctx context.Context, theme string) error {
	switch theme {
	case models.ThemeLight, models.ThemeDark, models.ThemeSystem:
	default:
		return ErrUnknownTheme
	}
	return p.store.SetPreference(ctx, prefKeyTheme, theme)
}

func (p *PreferenceService) Language(ctx context.Context) (string, error) {
	v, err := p.store.GetPreference(ctx, prefKeyLanguage)
	if errors.Is(err, database.ErrNotFound) {
		return models.DefaultLanguage, nil
	}
	if err != nil {
		return "", fmt.Errorf("get language: %w", err)
	}
	return v, nil
}

func (p *PreferenceService) SetLanguage(ctx context.Context, lang string) error {
	if lang == "" {
		lang = models.DefaultLanguage
	}
	return p.store.SetPreference(ctx, prefKeyLanguage, lang)
}
