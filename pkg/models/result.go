package models

const (
	ItemStatusSuccess = "success"
	ItemStatusFailed  = "failed"
)

// TaskResult is the aggregate output of a completed job. A job completes even
// when every item failed; ItemsSucceeded/ItemsFailed tell the two apart.
type TaskResult struct {
	Type                  TaskType      `json:"type"`
	Items                 []ItemOutcome `json:"items"`
	ItemsSucceeded        int           `json:"items_succeeded"`
	ItemsFailed           int           `json:"items_failed"`
	TotalTokens           int           `json:"total_tokens"`
	TotalCostUSD          float64       `json:"total_cost_usd"`
	ProcessingTimeSeconds float64       `json:"processing_time_seconds"`
}

// ItemOutcome records the fate of one batch item. On success exactly one
// content pointer is set, matching the task type; on failure Error holds the
// final provider error.
type ItemOutcome struct {
	Index           int             `json:"index"`
	Label           string          `json:"label"`
	Status          string          `json:"status"`
	Provider        string          `json:"provider,omitempty"`
	Model           string          `json:"model,omitempty"`
	UsedFallback    bool            `json:"used_fallback,omitempty"`
	TokensIn        int             `json:"tokens_in"`
	TokensOut       int             `json:"tokens_out"`
	TotalTokens     int             `json:"total_tokens"`
	CostUSD         float64         `json:"cost_usd"`
	DurationSeconds float64         `json:"duration_seconds"`
	Error           string          `json:"error,omitempty"`
	Article         *ArticleContent `json:"article,omitempty"`
	Product         *ProductContent `json:"product,omitempty"`
	Section         *SectionContent `json:"section,omitempty"`
}

// ArticleContent is the generated article payload.
type ArticleContent struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description,omitempty"`
	Content         string   `json:"content"`
	WordCount       int      `json:"word_count"`
	Keywords        []string `json:"keywords,omitempty"`
}

// ProductContent is the generated product description payload.
type ProductContent struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Features    []string `json:"features,omitempty"`
	SEOKeywords []string `json:"seo_keywords,omitempty"`
}

// SectionContent is the generated design section payload.
type SectionContent struct {
	SectionType string `json:"section_type"`
	Heading     string `json:"heading"`
	Body        string `json:"body"`
	CTAText     string `json:"cta_text,omitempty"`
}
