package notify

import (
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"welth/internal/core"
)

type BudgetAlertData struct {
	UserName      string
	AccountName   string
	PercentUsed   string
	BudgetAmount  string
	TotalExpenses string
}

type CategoryAmount struct {
	Name   string
	Amount string
}

type MonthlyReportData struct {
	UserName      string
	Month         string
	TotalIncome   string
	TotalExpenses string
	Net           string
	ByCategory    []CategoryAmount
	Insights      []string
}

var budgetAlertTmpl = template.Must(template.New("budget_alert").Parse(`<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <h2>Budget Alert</h2>
  <p>Hi {{.UserName}},</p>
  <p>You have used <strong>{{.PercentUsed}}%</strong> of your monthly budget on
     account <strong>{{.AccountName}}</strong>.</p>
  <ul>
    <li>Budget: {{.BudgetAmount}}</li>
    <li>Spent so far this month: {{.TotalExpenses}}</li>
  </ul>
  <p>Consider reviewing your upcoming expenses.</p>
</body>
</html>`))

var monthlyReportTmpl = template.Must(template.New("monthly_report").Parse(`<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <h2>Your {{.Month}} financial report</h2>
  <p>Hi {{.UserName}},</p>
  <ul>
    <li>Income: {{.TotalIncome}}</li>
    <li>Expenses: {{.TotalExpenses}}</li>
    <li>Net: {{.Net}}</li>
  </ul>
  {{if .ByCategory}}<h3>Expenses by category</h3>
  <ul>
  {{range .ByCategory}}<li>{{.Name}}: {{.Amount}}</li>
  {{end}}</ul>{{end}}
  {{if .Insights}}<h3>Insights</h3>
  <ul>
  {{range .Insights}}<li>{{.}}</li>
  {{end}}</ul>{{end}}
</body>
</html>`))

// NewBudgetAlertData formats the evaluator's numbers for the template.
func NewBudgetAlertData(user core.User, account core.Account, percentUsed, budgetAmount, totalExpenses decimal.Decimal) BudgetAlertData {
	return BudgetAlertData{
		UserName:      displayName(user),
		AccountName:   account.Name,
		PercentUsed:   percentUsed.StringFixed(1),
		BudgetAmount:  budgetAmount.StringFixed(2),
		TotalExpenses: totalExpenses.StringFixed(2),
	}
}

// NewMonthlyReportData formats a month's statistics, with categories sorted by
// descending spend for a stable rendering.
func NewMonthlyReportData(user core.User, month time.Time, stats core.MonthlyStats, insights []string) MonthlyReportData {
	categories := make([]CategoryAmount, 0, len(stats.ByCategory))
	names := make([]string, 0, len(stats.ByCategory))
	for name := range stats.ByCategory {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := stats.ByCategory[names[i]], stats.ByCategory[names[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		label := name
		if label == "" {
			label = "uncategorized"
		}
		categories = append(categories, CategoryAmount{
			Name:   label,
			Amount: stats.ByCategory[name].StringFixed(2),
		})
	}

	return MonthlyReportData{
		UserName:      displayName(user),
		Month:         month.Format("January 2006"),
		TotalIncome:   stats.TotalIncome.StringFixed(2),
		TotalExpenses: stats.TotalExpenses.StringFixed(2),
		Net:           stats.Net().StringFixed(2),
		ByCategory:    categories,
		Insights:      insights,
	}
}

func RenderBudgetAlert(data BudgetAlertData) (string, error) {
	var b strings.Builder
	if err := budgetAlertTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render budget alert: %w", err)
	}
	return b.String(), nil
}

func RenderMonthlyReport(data MonthlyReportData) (string, error) {
	var b strings.Builder
	if err := monthlyReportTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render monthly report: %w", err)
	}
	return b.String(), nil
}

func displayName(u core.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
