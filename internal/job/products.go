package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// ProductProcessor generates e-commerce product descriptions.
type ProductProcessor struct {
	router Router
}

func NewProductProcessor(router Router) *ProductProcessor {
	return &ProductProcessor{router: router}
}

func (p *ProductProcessor) Category() models.TaskType { return models.TaskTypeProducts }

func (p *ProductProcessor) Process(ctx context.Context, run *Run) (*models.TaskResult, error) {
	data := run.Job.TaskData
	items := make([]batchItem, len(data.Products))
	for i, spec := range data.Products {
		spec := spec
		items[i] = batchItem{
			Label:  spec.Name,
			Prompt: buildProductPrompt(spec, data.Options),
			Parse: func(outcome *models.ItemOutcome, content string) {
				outcome.Product = parseProduct(spec, content)
			},
		}
	}
	return runItems(ctx, p.router, run, models.TaskTypeProducts, items)
}

func buildProductPrompt(spec models.ProductSpec, opts models.GenerationOptions) string {
	var b strings.Builder
	b.WriteString("Write a persuasive e-commerce product description.\n\n")
	fmt.Fprintf(&b, "Product: %s\n", spec.Name)
	if spec.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", spec.Category)
	}
	if len(spec.Features) > 0 {
		fmt.Fprintf(&b, "Key features: %s\n", strings.Join(spec.Features, "; "))
	}
	if spec.Audience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", spec.Audience)
	}
	if opts.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", opts.Language)
	}
	b.WriteString("\nRespond with a single fenced ```json block containing an object with these fields:\n")
	b.WriteString(`{"name": string, "description": string, "features": [string] (benefit-framed), "seo_keywords": [string]}`)
	b.WriteString("\nDo not include any text outside the fenced block.\n")
	return b.String()
}

func parseProduct(spec models.ProductSpec, reply string) *models.ProductContent {
	if block, ok := extractJSONBlock(reply); ok {
		var p models.ProductContent
		if err := json.Unmarshal([]byte(block), &p); err == nil && strings.TrimSpace(p.Description) != "" {
			if p.Name == "" {
				p.Name = spec.Name
			}
			if len(p.Features) == 0 {
				p.Features = spec.Features
			}
			return &p
		}
	}
	return &models.ProductContent{
		Name:        spec.Name,
		Description: reply,
		Features:    spec.Features,
	}
}
