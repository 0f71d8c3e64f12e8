// Package phrases owns the per-language phrase table for voice prompts and
// outbound text messages. The conversation engine emits symbolic keys plus
// parameters; rendering to final strings happens here so channel code never
// concatenates customer-facing text by hand.
package phrases

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode"
)

// Language is one of the three supported conversation languages.
type Language string

const (
	LangEN Language = "en"
	LangRU Language = "ru"
	LangLV Language = "lv"
)

// Normalize maps locale-ish inputs ("en-US", "RU") onto a supported Language.
// Unknown values fall back to English.
func Normalize(code string) Language {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	switch Language(code) {
	case LangRU:
		return LangRU
	case LangLV:
		return LangLV
	case LangEN:
		return LangEN
	default:
		return LangEN
	}
}

// latvianMarkers are characters common in Latvian but absent from English.
const latvianMarkers = "āčēģīķļņšūž"

// Detect guesses the language of an utterance: Cyrillic means Russian,
// Latvian diacritics mean Latvian, otherwise the fallback. It is a coarse
// first-contact heuristic — once a conversation's language is set it is
// sticky and Detect is not consulted again.
func Detect(text string, fallback Language) Language {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return LangRU
		}
		if strings.ContainsRune(latvianMarkers, unicode.ToLower(r)) {
			return LangLV
		}
	}
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return fallback
}

// STTLocale returns the speech-to-text locale for a language.
func STTLocale(lang Language) string {
	switch lang {
	case LangRU:
		return "ru-RU"
	case LangLV:
		return "lv-LV"
	default:
		return "en-US"
	}
}

// Key identifies one phrase in the table.
type Key string

const (
	KeyGreeting    Key = "greeting"
	KeyAskService  Key = "ask_service"
	KeyAskTime     Key = "ask_time"
	KeyAskName     Key = "ask_name"
	KeyInvalidTime Key = "invalid_time"
	KeyBusyOffer   Key = "busy_offer"
	KeyConfirmed   Key = "confirmed"
	KeyRecovery    Key = "recovery"
	KeyUnavailable Key = "unavailable"
	KeyGoodbye     Key = "goodbye"
)

// Params carries every interpolation value a phrase may reference.
type Params struct {
	BusinessName string
	Address      string
	Hours        string
	Service      string
	Name         string
	Time         string
	OptionA      string
	OptionB      string
	Link         string
}

var table = map[Language]map[Key]string{
	LangEN: {
		KeyGreeting:    "Hello! This is {{.BusinessName}}. How can I help you?",
		KeyAskService:  "What service would you like? For example: men's haircut.",
		KeyAskTime:     "What day and time suit you? Please say an exact time, like 15 30.",
		KeyAskName:     "What name should I put the booking under?",
		KeyInvalidTime: "We are open {{.Hours}}. Please name a time within working hours.",
		KeyBusyOffer:   "{{.BusinessName}}: that time is taken. Free slots: 1) {{.OptionA}} 2) {{.OptionB}}. Reply 1 or 2.",
		KeyConfirmed:   "{{.BusinessName}}: booked — {{.Service}}, {{.Time}}, for {{.Name}}. Address: {{.Address}}. To change: {{.Link}}",
		KeyRecovery:    "{{.BusinessName}}: we could not finish by phone. Book here: {{.Link}}",
		KeyUnavailable: "{{.BusinessName}} is temporarily unavailable. Please try again later.",
		KeyGoodbye:     "Thank you. Goodbye.",
	},
	LangRU: {
		KeyGreeting:    "Здравствуйте! Это {{.BusinessName}}. Чем могу помочь?",
		KeyAskService:  "Какая услуга вас интересует? Например: мужская стрижка.",
		KeyAskTime:     "На какой день и время вас записать? Назовите точное время, например 15 30.",
		KeyAskName:     "На какое имя записать?",
		KeyInvalidTime: "Мы работаем {{.Hours}}. Назовите, пожалуйста, время в рабочие часы.",
		KeyBusyOffer:   "{{.BusinessName}}: это время занято. Свободно: 1) {{.OptionA}} 2) {{.OptionB}}. Ответьте 1 или 2.",
		KeyConfirmed:   "{{.BusinessName}}: записано — {{.Service}}, {{.Time}}, на имя {{.Name}}. Адрес: {{.Address}}. Изменить: {{.Link}}",
		KeyRecovery:    "{{.BusinessName}}: не удалось завершить запись по телефону. Запишитесь здесь: {{.Link}}",
		KeyUnavailable: "{{.BusinessName}} временно недоступен. Попробуйте позже, пожалуйста.",
		KeyGoodbye:     "Спасибо. До свидания.",
	},
	LangLV: {
		KeyGreeting:    "Labdien! Šis ir {{.BusinessName}}. Kā varu palīdzēt?",
		KeyAskService:  "Kādu pakalpojumu vēlaties? Piemēram: vīriešu matu griezums.",
		KeyAskTime:     "Kurā dienā un laikā jūs pierakstīt? Nosauciet precīzu laiku, piemēram 15 30.",
		KeyAskName:     "Uz kāda vārda pierakstīt?",
		KeyInvalidTime: "Mēs strādājam {{.Hours}}. Lūdzu, nosauciet laiku darba laikā.",
		KeyBusyOffer:   "{{.BusinessName}}: šis laiks ir aizņemts. Brīvs: 1) {{.OptionA}} 2) {{.OptionB}}. Atbildiet 1 vai 2.",
		KeyConfirmed:   "{{.BusinessName}}: pierakstīts — {{.Service}}, {{.Time}}, uz vārda {{.Name}}. Adrese: {{.Address}}. Mainīt: {{.Link}}",
		KeyRecovery:    "{{.BusinessName}}: neizdevās pabeigt pierakstu pa tālruni. Pierakstieties šeit: {{.Link}}",
		KeyUnavailable: "{{.BusinessName}} īslaicīgi nav pieejams. Lūdzu, mēģiniet vēlāk.",
		KeyGoodbye:     "Paldies. Uz redzēšanos.",
	},
}

var compiled = func() map[Language]map[Key]*template.Template {
	out := make(map[Language]map[Key]*template.Template, len(table))
	for lang, keys := range table {
		out[lang] = make(map[Key]*template.Template, len(keys))
		for key, text := range keys {
			out[lang][key] = template.Must(
				template.New(string(lang) + ":" + string(key)).Option("missingkey=error").Parse(text),
			)
		}
	}
	return out
}()

// Render produces the final phrase text for a language and key.
func Render(lang Language, key Key, p Params) (string, error) {
	keys, ok := compiled[lang]
	if !ok {
		keys = compiled[LangEN]
	}
	tmpl, ok := keys[key]
	if !ok {
		return "", fmt.Errorf("phrases: unknown key %q", key)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("phrases: render %s/%s: %w", lang, key, err)
	}
	return buf.String(), nil
}

// FormatSlot renders a timestamp the way offers and confirmations quote it:
// day.month hour:minute in the business timezone.
func FormatSlot(t time.Time) string {
	return t.Format("02.01 15:04")
}
