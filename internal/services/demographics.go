package services

import (
	"net/mail"
	"strings"

	"github.com/soaringjerry/labreport/internal/models"
)

const (
	DefaultLanguage = "English"
	preferNotToSay  = "Prefer not to say"
)

var AgeRanges = []string{"18-24", "25-34", "35-44", "45-54", "55-64", "65+"}

var Genders = []string{preferNotToSay, "Female", "Male", "Intersex", "Non-binary", "Other"}

var Ethnicities = []string{
	preferNotToSay, "Asian", "Black / African descent", "Hispanic / Latino/a/e",
	"Middle Eastern / North African", "Native American / Alaska Native",
	"Native Hawaiian / Pacific Islander", "White", "Other / Multi",
}

var Languages = []string{
	"English", "Spanish", "Arabic", "Bengali", "French",
	"Hindi", "Urdu", "Russian", "Cantonese",
}

var languageCodes = map[string]string{
	"en":    "English",
	"es":    "Spanish",
	"ar":    "Arabic",
	"bn":    "Bengali",
	"fr":    "French",
	"hi":    "Hindi",
	"ur":    "Urdu",
	"ru":    "Russian",
	"yue":   "Cantonese",
	"zh-hk": "Cantonese",
}

// NormalizeLanguage maps a language name or code to a supported language,
// falling back to English.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return DefaultLanguage
	}
	if v, ok := matchOption(Languages, lang); ok {
		return v
	}
	if v, ok := languageCodes[strings.ToLower(lang)]; ok {
		return v
	}
	return DefaultLanguage
}

// ValidateDemographics trims and canonicalises a submission. Age range and
// country are required; unset gender and ethnicity become "Prefer not to say".
func ValidateDemographics(in models.Demographics) (models.Demographics, error) {
	out := models.Demographics{
		AgeRange: strings.ReplaceAll(strings.TrimSpace(in.AgeRange), "–", "-"),
		Country:  strings.TrimSpace(in.Country),
		State:    strings.TrimSpace(in.State),
		City:     strings.TrimSpace(in.City),
		Language: NormalizeLanguage(in.Language),
	}
	age, ok := matchOption(AgeRanges, out.AgeRange)
	if !ok {
		return models.Demographics{}, NewInvalidError("invalid age range")
	}
	out.AgeRange = age
	if out.Country == "" {
		return models.Demographics{}, NewInvalidError("country required")
	}
	if out.Gender, ok = optionOrDefault(Genders, in.Gender); !ok {
		return models.Demographics{}, NewInvalidError("invalid gender")
	}
	if out.Ethnicity, ok = optionOrDefault(Ethnicities, in.Ethnicity); !ok {
		return models.Demographics{}, NewInvalidError("invalid ethnicity")
	}
	if email := strings.TrimSpace(in.Email); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return models.Demographics{}, NewInvalidError("invalid email")
		}
		out.Email = email
	}
	out.ContactConsent = in.ContactConsent && out.Email != ""
	return out, nil
}

func optionOrDefault(options []string, v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return preferNotToSay, true
	}
	return matchOption(options, v)
}

func matchOption(options []string, v string) (string, bool) {
	for _, o := range options {
		if strings.EqualFold(o, v) {
			return o, true
		}
	}
	return "", false
}
