// Package insights turns a month's financial summary into a few short
// natural-language observations using Gemini. Callers must treat any failure
// as recoverable and fall back to Fallback().
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"welth/internal/core"
)

// Generator produces monthly insight strings from a financial summary.
type Generator struct {
	model string
}

func NewGenerator(model string) *Generator {
	return &Generator{model: model}
}

// MonthlyInsights asks the model for a STRICT JSON array of short insight
// strings. Any failure, including malformed model output, is returned as an
// error for the caller to recover from.
func (g *Generator) MonthlyInsights(ctx context.Context, stats core.MonthlyStats, month time.Time) ([]string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(stats, month)},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var parsed []string
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal insights: %w\nraw response: %s", err, rawText)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("model returned no insights")
	}

	return parsed, nil
}

func buildPrompt(stats core.MonthlyStats, month time.Time) string {
	var categories []string
	for name := range stats.ByCategory {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString("You are a personal finance assistant.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Analyze the monthly summary below and write exactly 3 short, concrete, actionable insights.\n")
	b.WriteString("- Output STRICT JSON only: a JSON array of 3 strings.\n")
	b.WriteString("- Do NOT wrap the response in code fences or Markdown.\n")
	b.WriteString("- Output must begin with \"[\" and end with \"]\".\n\n")
	fmt.Fprintf(&b, "Summary for %s:\n", month.Format("January 2006"))
	fmt.Fprintf(&b, "- Total income: %s\n", stats.TotalIncome.StringFixed(2))
	fmt.Fprintf(&b, "- Total expenses: %s\n", stats.TotalExpenses.StringFixed(2))
	fmt.Fprintf(&b, "- Net: %s\n", stats.Net().StringFixed(2))
	fmt.Fprintf(&b, "- Transactions: %d\n", stats.TransactionCount)
	if len(categories) > 0 {
		b.WriteString("- Expenses by category:\n")
		for _, name := range categories {
			label := name
			if label == "" {
				label = "uncategorized"
			}
			fmt.Fprintf(&b, "  - %s: %s\n", label, stats.ByCategory[name].StringFixed(2))
		}
	}
	return b.String()
}

// cleanModelJSON strips code fences and surrounding junk when the model
// ignores the formatting instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

// Fallback is the canned insight set used whenever generation fails.
func Fallback() []string {
	return []string{
		"Your monthly report is ready, review your spending to spot trends early.",
		"Consider setting category budgets for your largest expense areas.",
		"Regularly reviewing recurring charges helps catch subscriptions you no longer use.",
	}
}
