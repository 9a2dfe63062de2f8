package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"meetwise/app/booking"
	"meetwise/app/client/llm"
	"meetwise/app/config"

	_ "embed"

	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
)

//go:embed prompt_template.txt
var promptTemplate string

const (
	localLayout  = "2006-01-02T15:04"
	dateLayout   = "2006-01-02"
	maxTokens    = 1000
	temperature  = 0.1
	noneProvided = "none"
)

type Service struct {
	model llms.Model
	loc   *time.Location
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)
	policy := do.MustInvoke[booking.Policy](di)

	model, err := llm.New(do.MustInvoke[context.Context](di), "extractor", cfg.LLM.Extractor)
	if err != nil {
		return nil, err
	}

	return NewService(model, policy.Location), nil
}

func NewService(model llms.Model, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		model: model,
		loc:   loc,
	}
}

// Extract classifies text and pulls the booking fields out of it. Every failure,
// from the transport to unusable output, wraps booking.ErrExtraction.
func (s *Service) Extract(ctx context.Context, text string, st booking.State, now time.Time) (booking.Intent, booking.Update, error) {
	errBuilder := oops.In("extractor").With("conversation_id", st.ConversationID)

	prompt := s.prompt(text, st, now)

	result, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		return "", booking.Update{}, errBuilder.Wrapf(extractionError(err), "generate")
	}

	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	result = strings.TrimSpace(result)

	var resp response
	if err = json.Unmarshal([]byte(result), &resp); err != nil {
		return "", booking.Update{}, errBuilder.With("output", result).Wrapf(extractionError(err), "unmarshal response")
	}

	intent, update, err := s.resolve(resp, st)
	if err != nil {
		return "", booking.Update{}, errBuilder.With("output", result).Wrapf(extractionError(err), "resolve response")
	}

	return intent, update, nil
}

func extractionError(err error) error {
	return fmt.Errorf("%w: %w", booking.ErrExtraction, err)
}

func (s *Service) prompt(text string, st booking.State, now time.Time) string {
	templateValues := map[string]any{
		"now":       now.In(s.loc).Format("Monday, " + localLayout),
		"timezone":  s.loc.String(),
		"status":    st.Draft.Status,
		"draft":     s.formatDraft(st.Draft),
		"proposals": s.formatProposals(st.PendingProposals),
		"message":   text,
	}

	prompt := promptTemplate
	for key, value := range templateValues {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", fmt.Sprint(value))
	}

	return prompt
}

func (s *Service) formatDraft(d booking.Draft) string {
	var builder strings.Builder

	if d.Title != nil {
		builder.WriteString(fmt.Sprintf("- title: %s\n", *d.Title))
	}
	if len(d.Attendees) > 0 {
		builder.WriteString(fmt.Sprintf("- attendees: %s\n", strings.Join(d.Attendees, ", ")))
	}
	if d.Duration > 0 {
		builder.WriteString(fmt.Sprintf("- duration: %d minutes\n", int(d.Duration/time.Minute)))
	}
	if d.Window != nil {
		builder.WriteString(fmt.Sprintf("- window: %s to %s\n",
			d.Window.Start.In(s.loc).Format(localLayout),
			d.Window.End.In(s.loc).Format(localLayout)))
	}

	if builder.Len() == 0 {
		return noneProvided
	}

	return strings.TrimSuffix(builder.String(), "\n")
}

func (s *Service) formatProposals(proposals []booking.Slot) string {
	if len(proposals) == 0 {
		return noneProvided
	}

	lines := make([]string, 0, len(proposals))
	for i, p := range proposals {
		lines = append(lines, fmt.Sprintf("%d. %s to %s", i+1,
			p.Start.In(s.loc).Format(localLayout),
			p.End.In(s.loc).Format("15:04")))
	}

	return strings.Join(lines, "\n")
}
