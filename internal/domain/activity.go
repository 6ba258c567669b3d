package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Activity is a schedulable window (e.g. a call-for-proposals) with multilingual content.
type Activity struct {
	ID                 string
	Name               string
	Slug               string
	StartAt            time.Time
	EndAt              time.Time
	ClosedAt           *time.Time
	SupportedLanguages []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Contents           []ActivityContent
}

// ActivityContent is one language rendition of an activity. At most one row
// exists per (activity, lang) pair.
type ActivityContent struct {
	ID          string
	ActivityID  string
	Lang        string
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	slugMinLen  = 3
	slugMaxLen  = 64
	langMaxLen  = 15
	titleMaxLen = 255
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateSlug checks the slug against the lowercase hyphenated token rules.
func ValidateSlug(slug string) error {
	if len(slug) < slugMinLen || len(slug) > slugMaxLen {
		return fmt.Errorf("%w: slug must be %d-%d characters", ErrValidation, slugMinLen, slugMaxLen)
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug must match %s", ErrValidation, slugPattern.String())
	}
	return nil
}

// NormalizeLanguages lowercases and validates a supported-language list.
func NormalizeLanguages(langs []string) ([]string, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("%w: supported languages must not be empty", ErrValidation)
	}
	out := make([]string, 0, len(langs))
	for _, raw := range langs {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" || utf8.RuneCountInString(tag) > langMaxLen {
			return nil, fmt.Errorf("%w: invalid language tag %q", ErrValidation, raw)
		}
		if _, err := language.Parse(tag); err != nil {
			return nil, fmt.Errorf("%w: invalid language tag %q", ErrValidation, raw)
		}
		out = append(out, tag)
	}
	return out, nil
}

// validateSchedule enforces date ordering across the activity window.
func validateSchedule(startAt, endAt time.Time, closedAt *time.Time) error {
	if startAt.IsZero() || endAt.IsZero() {
		return fmt.Errorf("%w: start and end times are required", ErrValidation)
	}
	if !endAt.After(startAt) {
		return fmt.Errorf("%w: end time must be after start time", ErrValidation)
	}
	if closedAt != nil && !closedAt.Before(startAt) {
		return fmt.Errorf("%w: closed time must be before start time", ErrValidation)
	}
	return nil
}

// validateContents checks every content language against the supported set and
// rejects duplicate languages within the batch. Offending languages are named
// in the returned error.
func validateContents(supported []string, contents []ContentInput) error {
	if len(contents) == 0 {
		return fmt.Errorf("%w: at least one content is required", ErrValidation)
	}

	supportedSet := make(map[string]struct{}, len(supported))
	for _, lang := range supported {
		supportedSet[lang] = struct{}{}
	}

	seen := make(map[string]struct{}, len(contents))
	var unsupported, duplicates []string
	for _, content := range contents {
		lang := strings.ToLower(strings.TrimSpace(content.Lang))
		if lang == "" || utf8.RuneCountInString(lang) > langMaxLen {
			return fmt.Errorf("%w: invalid content language %q", ErrValidation, content.Lang)
		}
		if strings.TrimSpace(content.Title) == "" {
			return fmt.Errorf("%w: content title is required for language %q", ErrValidation, lang)
		}
		if utf8.RuneCountInString(content.Title) > titleMaxLen {
			return fmt.Errorf("%w: content title exceeds %d characters for language %q", ErrValidation, titleMaxLen, lang)
		}
		if _, dup := seen[lang]; dup {
			duplicates = append(duplicates, lang)
		}
		seen[lang] = struct{}{}
		if _, ok := supportedSet[lang]; !ok {
			unsupported = append(unsupported, lang)
		}
	}

	if len(duplicates) > 0 {
		return fmt.Errorf("%w: duplicate content languages: %s", ErrValidation, strings.Join(duplicates, ", "))
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("%w: unsupported content languages: %s", ErrValidation, strings.Join(unsupported, ", "))
	}
	return nil
}

// FilterContents drops contents whose language is no longer in the activity's
// supported set. Guards public reads against rows left stale by a later
// narrowing of supported languages.
func (a Activity) FilterContents() []ActivityContent {
	supportedSet := make(map[string]struct{}, len(a.SupportedLanguages))
	for _, lang := range a.SupportedLanguages {
		supportedSet[lang] = struct{}{}
	}

	out := make([]ActivityContent, 0, len(a.Contents))
	for _, content := range a.Contents {
		if _, ok := supportedSet[strings.ToLower(content.Lang)]; ok {
			out = append(out, content)
		}
	}
	return out
}
