package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// SectionProcessor generates website design section copy (hero, about,
// features, testimonials, and similar blocks).
type SectionProcessor struct {
	router Router
}

func NewSectionProcessor(router Router) *SectionProcessor {
	return &SectionProcessor{router: router}
}

func (p *SectionProcessor) Category() models.TaskType { return models.TaskTypeDesignSections }

func (p *SectionProcessor) Process(ctx context.Context, run *Run) (*models.TaskResult, error) {
	data := run.Job.TaskData
	items := make([]batchItem, len(data.Sections))
	for i, spec := range data.Sections {
		spec := spec
		items[i] = batchItem{
			Label:  sectionLabel(spec),
			Prompt: buildSectionPrompt(spec, data.Options),
			Parse: func(outcome *models.ItemOutcome, content string) {
				outcome.Section = parseSection(spec, content)
			},
		}
	}
	return runItems(ctx, p.router, run, models.TaskTypeDesignSections, items)
}

func sectionLabel(spec models.SectionSpec) string {
	return spec.SectionType + " / " + spec.BusinessName
}

func buildSectionPrompt(spec models.SectionSpec, opts models.GenerationOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write website copy for a %q section.\n\n", spec.SectionType)
	fmt.Fprintf(&b, "Business: %s\n", spec.BusinessName)
	if spec.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", spec.Industry)
	}
	if spec.Notes != "" {
		fmt.Fprintf(&b, "Notes from the client: %s\n", spec.Notes)
	}
	if opts.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", opts.Language)
	}
	b.WriteString("\nRespond with a single fenced ```json block containing an object with these fields:\n")
	b.WriteString(`{"section_type": string, "heading": string, "body": string, "cta_text": string (empty if the section has no call to action)}`)
	b.WriteString("\nDo not include any text outside the fenced block.\n")
	return b.String()
}

func parseSection(spec models.SectionSpec, reply string) *models.SectionContent {
	if block, ok := extractJSONBlock(reply); ok {
		var s models.SectionContent
		if err := json.Unmarshal([]byte(block), &s); err == nil && strings.TrimSpace(s.Body) != "" {
			if s.SectionType == "" {
				s.SectionType = spec.SectionType
			}
			if s.Heading == "" {
				s.Heading = spec.BusinessName
			}
			return &s
		}
	}
	return &models.SectionContent{
		SectionType: spec.SectionType,
		Heading:     spec.BusinessName,
		Body:        reply,
	}
}
