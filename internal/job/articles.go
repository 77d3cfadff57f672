package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// ArticleProcessor generates SEO articles.
type ArticleProcessor struct {
	router Router
}

func NewArticleProcessor(router Router) *ArticleProcessor {
	return &ArticleProcessor{router: router}
}

func (p *ArticleProcessor) Category() models.TaskType { return models.TaskTypeArticles }

func (p *ArticleProcessor) Process(ctx context.Context, run *Run) (*models.TaskResult, error) {
	data := run.Job.TaskData
	items := make([]batchItem, len(data.Articles))
	for i, spec := range data.Articles {
		spec := spec
		items[i] = batchItem{
			Label:  spec.Topic,
			Prompt: buildArticlePrompt(spec, data.Options),
			Parse: func(outcome *models.ItemOutcome, content string) {
				outcome.Article = parseArticle(spec, content)
			},
		}
	}
	return runItems(ctx, p.router, run, models.TaskTypeArticles, items)
}

func buildArticlePrompt(spec models.ArticleSpec, opts models.GenerationOptions) string {
	var b strings.Builder
	b.WriteString("Write an SEO-optimized article about the following topic.\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", spec.Topic)
	if len(spec.Keywords) > 0 {
		fmt.Fprintf(&b, "Target keywords: %s\n", strings.Join(spec.Keywords, ", "))
	}
	if spec.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", spec.Tone)
	}
	if spec.WordCount > 0 {
		fmt.Fprintf(&b, "Target length: about %d words\n", spec.WordCount)
	}
	if opts.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", opts.Language)
	}
	b.WriteString("\nRespond with a single fenced ```json block containing an object with these fields:\n")
	b.WriteString(`{"title": string, "meta_description": string, "content": string (markdown body), "word_count": number, "keywords": [string]}`)
	b.WriteString("\nDo not include any text outside the fenced block.\n")
	return b.String()
}

// parseArticle extracts structured content from a model reply. Unparseable
// replies are kept as the article body with fields synthesized from the
// request, so a generated text is never thrown away.
func parseArticle(spec models.ArticleSpec, reply string) *models.ArticleContent {
	if block, ok := extractJSONBlock(reply); ok {
		var a models.ArticleContent
		if err := json.Unmarshal([]byte(block), &a); err == nil && strings.TrimSpace(a.Content) != "" {
			if a.Title == "" {
				a.Title = spec.Topic
			}
			if a.WordCount == 0 {
				a.WordCount = countWords(a.Content)
			}
			if len(a.Keywords) == 0 {
				a.Keywords = spec.Keywords
			}
			return &a
		}
	}
	return &models.ArticleContent{
		Title:     spec.Topic,
		Content:   reply,
		WordCount: countWords(reply),
		Keywords:  spec.Keywords,
	}
}
