// Package extract reads calendar entries out of a schedule screenshot with a
// vision-capable model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/metrics"
	"github.com/jw6ventures/calassist/internal/schedule"
)

// Completer sends one chat-completion request.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Message, error)
}

// Extractor turns an image into extracted events.
type Extractor struct {
	llm   Completer
	model string
}

func New(c Completer, visionModel string) *Extractor {
	return &Extractor{llm: c, model: visionModel}
}

// Events asks the model for the events shown in the image at imageURL, which
// is an https or data URL. date anchors times that lack a day. The result is
// not validated; that is the comparison engine's job. On failure the slice is
// empty and the error explains why.
func (e *Extractor) Events(ctx context.Context, imageURL string, date schedule.Date, loc *time.Location) ([]schedule.ExtractedEvent, error) {
	if imageURL == "" {
		return []schedule.ExtractedEvent{}, errors.New("image is required")
	}
	zero := 0.0
	msg, err := e.llm.Complete(ctx, llm.Request{
		Model:       e.model,
		Phase:       metrics.PhaseExtract,
		Temperature: &zero,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt(date, loc)},
			{Role: llm.RoleUser, Parts: []llm.ContentPart{
				llm.TextPart("Extract the events in this schedule."),
				llm.ImagePart(imageURL),
			}},
		},
	})
	if err != nil {
		return []schedule.ExtractedEvent{}, fmt.Errorf("vision request: %w", err)
	}
	events, err := Parse(msg.Content)
	if err != nil {
		return []schedule.ExtractedEvent{}, err
	}
	return events, nil
}

func prompt(date schedule.Date, loc *time.Location) string {
	return fmt.Sprintf(`You read calendar screenshots.
Return only a JSON array. Each element has "title", "start_time", "end_time" and "all_day".
Times use the format YYYY-MM-DDTHH:MM:SS in the %s time zone; when the image shows no date assume %s.
For all-day entries set "all_day" to true and use YYYY-MM-DD for start_time and end_time.
Return [] when there are no events.`, loc.String(), date)
}

// Parse decodes the model's answer, tolerating Markdown code fences and text
// around the array.
func Parse(content string) ([]schedule.ExtractedEvent, error) {
	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start < 0 || end < start {
		return []schedule.ExtractedEvent{}, fmt.Errorf("no JSON array in model output")
	}
	var events []schedule.ExtractedEvent
	if err := json.Unmarshal([]byte(body[start:end+1]), &events); err != nil {
		return []schedule.ExtractedEvent{}, fmt.Errorf("decode extracted events: %w", err)
	}
	if events == nil {
		events = []schedule.ExtractedEvent{}
	}
	return events, nil
}
