package utils

// Server-side copy for the few strings the API itself returns. Anything
// missing in a locale falls back to English, then to the key.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":       "ok",
		"disclaimer":      "Educational summaries of lab reports only. This is not medical advice, diagnosis, or treatment. Always consult a licensed clinician.",
		"error.internal":  "Something went wrong. Please try again.",
		"error.challenge": "Please select the images that contain the specified object.",
		"error.session":   "Your session has expired. Please start again.",
	},
	"es": {
		"disclaimer":      "Solo resúmenes educativos de informes de laboratorio. No es consejo médico, diagnóstico ni tratamiento. Consulte siempre a un profesional de la salud.",
		"error.internal":  "Algo salió mal. Inténtelo de nuevo.",
		"error.challenge": "Seleccione las imágenes que contienen el objeto indicado.",
		"error.session":   "Su sesión ha expirado. Vuelva a empezar.",
	},
	"fr": {
		"disclaimer":     "Résumés éducatifs de bilans biologiques uniquement. Ceci n'est ni un avis médical, ni un diagnostic, ni un traitement. Consultez toujours un professionnel de santé.",
		"error.internal": "Une erreur s'est produite. Veuillez réessayer.",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}
