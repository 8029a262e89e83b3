package progress

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var DefaultLanguage = language.English

const (
	msgOCRPage       = "Reading page %d of %d"
	msgTranscribing  = "Transcribing segment %d of %d"
	msgPhaseStep     = "%s: step %d of %d"
	msgQueuePosition = "Waiting in queue (position %d)"
	msgPreparing     = "Preparing document"
	msgFinalizing    = "Finalizing"
)

var translations = map[language.Tag]map[string]string{
	language.Spanish: {
		msgOCRPage:            "Leyendo página %d de %d",
		msgTranscribing:       "Transcribiendo segmento %d de %d",
		msgPhaseStep:          "%s: paso %d de %d",
		msgQueuePosition:      "En cola (posición %d)",
		msgPreparing:          "Preparando documento",
		msgFinalizing:         "Finalizando",
		genericFailureMessage: "El procesamiento falló. Inténtalo de nuevo.",
		cancelledMessage:      "Cancelado",
	},
}

var phaseNames = map[string]string{
	"ocr":            "Text recognition",
	"transcription":  "Transcription",
	"transcribe":     "Transcription",
	"preprocess":     "Preparation",
	"preprocessing":  "Preparation",
	"postprocess":    "Post-processing",
	"postprocessing": "Post-processing",
	"layout":         "Layout analysis",
}

var (
	ocrPageRe      = regexp.MustCompile(`^(?i)ocr\s+page\s+(\d+)\s*(?:/|of)\s*(\d+)$`)
	transcribingRe = regexp.MustCompile(`^(?i)transcrib\w*\s+(?:chunk|segment)\s+(\d+)\s*(?:/|of)\s*(\d+)$`)
	phaseStepRe    = regexp.MustCompile(`^(?i)([a-z][a-z_-]*)\s*[:\-]?\s*step\s+(\d+)\s*(?:/|of)\s*(\d+)$`)
	queuedRe       = regexp.MustCompile(`^(?i)queued?\s+(?:position\s+)?#?(\d+)$`)
	preparingRe    = regexp.MustCompile(`^(?i)(?:upload(?:ed)?|received|preparing)$`)
	finalizingRe   = regexp.MustCompile(`^(?i)(?:finali[sz]ing|writing output|saving)$`)
)

func init() {
	for tag, msgs := range translations {
		for key, msg := range msgs {
			if err := message.SetString(tag, key, msg); err != nil {
				zap.S().Named("progress").Warnw("failed to register translation", "lang", tag, "key", key, "error", err)
			}
		}
	}
}

// Humanizer turns raw backend stage identifiers into user facing sentences.
// Stages it does not recognise are returned unchanged.
type Humanizer struct {
	tag     language.Tag
	printer *message.Printer
	title   cases.Caser
}

func NewHumanizer(tag language.Tag) *Humanizer {
	return &Humanizer{
		tag:     tag,
		printer: message.NewPrinter(tag),
		title:   cases.Title(tag),
	}
}

// ParseLanguage returns the humanizer language for s, falling back to English.
func ParseLanguage(s string) language.Tag {
	if s == "" {
		return DefaultLanguage
	}
	tag, err := language.Parse(s)
	if err != nil {
		return DefaultLanguage
	}
	matcher := language.NewMatcher([]language.Tag{language.English, language.Spanish})
	matched, _, _ := matcher.Match(tag)
	base, _ := matched.Base()
	return language.Make(base.String())
}

func (h *Humanizer) Sprintf(key string, args ...any) string {
	return h.printer.Sprintf(key, args...)
}

func (h *Humanizer) Humanize(stage string) string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return ""
	}

	if m := ocrPageRe.FindStringSubmatch(s); m != nil {
		return h.printer.Sprintf(msgOCRPage, atoi(m[1]), atoi(m[2]))
	}
	if m := transcribingRe.FindStringSubmatch(s); m != nil {
		return h.printer.Sprintf(msgTranscribing, atoi(m[1]), atoi(m[2]))
	}
	if m := phaseStepRe.FindStringSubmatch(s); m != nil {
		return h.printer.Sprintf(msgPhaseStep, h.phase(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := queuedRe.FindStringSubmatch(s); m != nil {
		return h.printer.Sprintf(msgQueuePosition, atoi(m[1]))
	}
	if preparingRe.MatchString(s) {
		return h.printer.Sprintf(msgPreparing)
	}
	if finalizingRe.MatchString(s) {
		return h.printer.Sprintf(msgFinalizing)
	}
	return stage
}

func (h *Humanizer) phase(raw string) string {
	key := strings.ToLower(raw)
	if name, ok := phaseNames[key]; ok {
		return name
	}
	return h.title.String(strings.NewReplacer("_", " ", "-", " ").Replace(key))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
