package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"meetwise/app/booking"
	"meetwise/app/client/llm"
	"meetwise/app/config"

	_ "embed"

	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
)

//go:embed replies.tmpl
var repliesTemplate string

//go:embed rephrase_prompt_template.txt
var rephrasePromptTemplate string

const (
	maxRephraseDuration = 30 * time.Second
	maxMessageLength    = 1000
	slotLayout          = "Mon 2 Jan, 15:04"
)

type Service struct {
	model     llms.Model
	loc       *time.Location
	templates *template.Template
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)
	policy := do.MustInvoke[booking.Policy](di)

	var model llms.Model
	if cfg.LLM.Composer.Enabled() {
		var err error
		model, err = llm.New(do.MustInvoke[context.Context](di), "composer", cfg.LLM.Composer)
		if err != nil {
			return nil, err
		}
	}

	return NewService(model, policy.Location)
}

// NewService builds a composer. A nil model disables rephrasing.
func NewService(model llms.Model, loc *time.Location) (*Service, error) {
	if loc == nil {
		loc = time.UTC
	}

	s := &Service{
		model: model,
		loc:   loc,
	}

	templates, err := template.New("replies").Funcs(template.FuncMap{
		"slot":     s.formatSlot,
		"inc":      func(i int) int { return i + 1 },
		"join":     func(items []string) string { return strings.Join(items, ", ") },
		"question": question,
	}).Parse(repliesTemplate)
	if err != nil {
		return nil, oops.In("composer").Wrapf(err, "parse reply templates")
	}
	s.templates = templates

	return s, nil
}

type view struct {
	Decision booking.Decision
	Title    string
}

// Compose renders the reply for decision. The rendered text is always usable;
// rephrasing only replaces it when the model answers in time.
func (s *Service) Compose(ctx context.Context, st booking.State, decision booking.Decision, message string) string {
	reply, err := s.Render(st, decision)
	if err != nil {
		slog.Error("Failed to render reply",
			"conversation_id", st.ConversationID,
			"action", decision.Action,
			"error", err,
		)
		reply = "Sorry, I lost track of this conversation. Could you say that again?"
	}

	if s.model == nil {
		return reply
	}

	rephrased, err := s.rephrase(ctx, message, reply)
	if err != nil {
		slog.Warn("Rephrasing failed, using template reply",
			"conversation_id", st.ConversationID,
			"error", err,
		)
		return reply
	}

	return rephrased
}

func (s *Service) Render(st booking.State, decision booking.Decision) (string, error) {
	title := "your meeting"
	if st.Draft.Title != nil {
		title = *st.Draft.Title
	}

	var builder strings.Builder
	if err := s.templates.ExecuteTemplate(&builder, string(decision.Action), view{Decision: decision, Title: title}); err != nil {
		return "", oops.In("composer").With("action", decision.Action).Wrapf(err, "execute template")
	}

	return strings.TrimSpace(builder.String()), nil
}

func (s *Service) rephrase(ctx context.Context, message, reply string) (string, error) {
	templateValues := map[string]any{
		"message": message,
		"reply":   reply,
	}

	prompt := rephrasePromptTemplate
	for key, value := range templateValues {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", fmt.Sprint(value))
	}

	ctx, cancel := context.WithTimeout(ctx, maxRephraseDuration)
	defer cancel()

	result, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt, llms.WithMaxTokens(500))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	result = strings.TrimSpace(result)
	if result == "" {
		return "", fmt.Errorf("empty response")
	}
	if len(result) > maxMessageLength {
		return "", fmt.Errorf("response is too long (%d > %d)", len(result), maxMessageLength)
	}

	return result, nil
}

func (s *Service) formatSlot(slot booking.Slot) string {
	return fmt.Sprintf("%s-%s", slot.Start.In(s.loc).Format(slotLayout), slot.End.In(s.loc).Format("15:04"))
}

func question(field booking.Field) string {
	switch field {
	case booking.FieldDuration:
		return "How long should the meeting be?"
	case booking.FieldWindow:
		return "When would you like to meet? A day and a rough time of day is enough."
	case booking.FieldTitle:
		return "What should I call the meeting?"
	default:
		return "Could you tell me a bit more about the meeting?"
	}
}
