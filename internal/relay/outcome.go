// ABOUTME: Outcome translation from a finished run into the single user-facing text
// ABOUTME: Holds the default Portuguese messages and config overrides

package relay

import (
	"strings"

	"github.com/2389/assistant-relay/internal/assistant"
)

// Messages are the user-facing texts. Failed and PollTimeout are templates
// whose first %s receives the error code or last observed status; without a
// %s the value is appended.
type Messages struct {
	Welcome         string
	Disclosure      string
	Fallback        string
	Failed          string
	Expired         string
	Cancelled       string
	RequiresAction  string
	PollTimeout     string
	UnexpectedError string
}

// DefaultMessages returns the built-in texts.
func DefaultMessages() Messages {
	return Messages{
		Welcome:         "Olá... Você conversará com uma IA experimental e podem haver erros.",
		Disclosure:      "Fique tranquilo(a) que seus dados estão protegidos, pois só consigo manter a memória da nossa conversa por 12 horas, depois o chat é reiniciado e os dados, apagados. Estamos processando a sua resposta…",
		Fallback:        "Desculpe, ocorreu um problema e não consegui processar sua solicitação no momento. Por favor, tente novamente.",
		Failed:          "Desculpe, a solicitação falhou (%s). Tente reformular sua pergunta.",
		Expired:         "Desculpe, a solicitação demorou muito e expirou. Por favor, tente novamente.",
		Cancelled:       "A solicitação foi cancelada.",
		RequiresAction:  "Desculpe, a solicitação requer uma ação adicional que não posso realizar no momento.",
		PollTimeout:     "Desculpe, não foi possível obter a resposta a tempo (Status: %s). Por favor, tente novamente.",
		UnexpectedError: "Ocorreu um erro inesperado ao processar sua mensagem. A equipe técnica foi notificada. Por favor, tente novamente mais tarde.",
	}
}

// Merge returns m with every non-empty field of o replacing its counterpart.
func (m Messages) Merge(o Messages) Messages {
	pick := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	pick(&m.Welcome, o.Welcome)
	pick(&m.Disclosure, o.Disclosure)
	pick(&m.Fallback, o.Fallback)
	pick(&m.Failed, o.Failed)
	pick(&m.Expired, o.Expired)
	pick(&m.Cancelled, o.Cancelled)
	pick(&m.RequiresAction, o.RequiresAction)
	pick(&m.PollTimeout, o.PollTimeout)
	pick(&m.UnexpectedError, o.UnexpectedError)
	return m
}

// defaultErrorCode stands in when a failed run carries no error code.
const defaultErrorCode = "Erro"

// Outcome is everything the translator needs to know about a finished run.
type Outcome struct {
	Status    assistant.RunStatus
	Text      string // extracted reply; only meaningful for completed runs
	ErrorCode string
	TimedOut  bool // polling budget ran out before a terminal status
}

// Translator turns outcomes into user-facing text.
type Translator struct {
	msgs Messages
}

// NewTranslator creates a translator. Empty fields in msgs fall back to the defaults.
func NewTranslator(msgs Messages) *Translator {
	return &Translator{msgs: DefaultMessages().Merge(msgs)}
}

// Translate maps an outcome to the text sent to the user. It is pure and never
// returns an empty string.
func (t *Translator) Translate(o Outcome) string {
	if o.TimedOut {
		return fill(t.msgs.PollTimeout, string(o.Status))
	}

	switch o.Status {
	case assistant.RunStatusCompleted:
		if strings.TrimSpace(o.Text) != "" {
			return o.Text
		}
		return t.msgs.Fallback
	case assistant.RunStatusFailed:
		code := o.ErrorCode
		if code == "" {
			code = defaultErrorCode
		}
		return fill(t.msgs.Failed, code)
	case assistant.RunStatusExpired:
		return t.msgs.Expired
	case assistant.RunStatusCancelled:
		return t.msgs.Cancelled
	case assistant.RunStatusRequiresAction:
		return t.msgs.RequiresAction
	default:
		return t.msgs.Fallback
	}
}

// Messages returns the effective texts.
func (t *Translator) Messages() Messages {
	return t.msgs
}

// fill substitutes the first %s of tmpl. Templates without a verb get the
// argument appended in parentheses so it is never lost.
func fill(tmpl, arg string) string {
	if !strings.Contains(tmpl, "%s") {
		return strings.TrimRight(tmpl, " ") + " (" + arg + ")"
	}
	return strings.Replace(tmpl, "%s", arg, 1)
}
