package intake

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const nursePromptTemplate = "You are a warm, empathetic medical intake agent speaking %s. " +
	"Your job is to ask clear questions about the patient's symptoms, " +
	"duration, risk factors, and any relevant context. " +
	"Keep answers short, natural, and friendly, like a real call center nurse."

const extractionPrompt = "You are a medical assistant. From the following conversation between an agent " +
	"and a patient, extract a STRICT JSON object with the keys: " +
	"age (int), symptoms (string), duration (string), " +
	"risk_factors (string), other_context (string). " +
	"If information is missing, fill with an empty string or a reasonable default."

// languageName spells out a language code for the nurse prompt, e.g. "fr" -> "FRENCH".
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil || code == "" || code == "auto" {
		return "ENGLISH"
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return "ENGLISH"
	}
	return strings.ToUpper(name)
}
