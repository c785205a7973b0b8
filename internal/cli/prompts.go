package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/models"
)

// PromptForTicker prompts the user to enter a stock ticker symbol
func PromptForTicker(suggestions []models.Ticker) (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, GOOGL):",
		Help:    "Please enter a valid stock ticker symbol for analysis",
	}
	if len(suggestions) > 0 {
		prompt.Suggest = func(toComplete string) []string {
			toComplete = strings.ToUpper(strings.TrimSpace(toComplete))
			var out []string
			for _, t := range suggestions {
				if strings.HasPrefix(t.Symbol, toComplete) {
					out = append(out, t.Symbol)
				}
			}
			return out
		}
	}

	err := survey.AskOne(prompt, &ticker, survey.WithValidator(func(val interface{}) error {
		str := strings.TrimSpace(strings.ToUpper(val.(string)))
		if len(str) == 0 {
			return fmt.Errorf("ticker symbol cannot be empty")
		}
		if len(str) > 10 {
			return fmt.Errorf("ticker symbol too long (max 10 characters)")
		}
		if !models.ValidTicker(str) {
			return fmt.Errorf("invalid ticker format (use letters, numbers, dots, and hyphens only)")
		}
		return nil
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToUpper(ticker)), nil
}

// PromptForAnalysisDate prompts the user to enter an analysis date
func PromptForAnalysisDate() (string, error) {
	var dateStr string
	prompt := &survey.Input{
		Message: "Enter the analysis date (YYYY-MM-DD):",
		Help:    "Format: YYYY-MM-DD (e.g., 2024-01-15). Defaults to today.",
		Default: time.Now().Format(models.DateLayout),
	}

	err := survey.AskOne(prompt, &dateStr, survey.WithValidator(func(val interface{}) error {
		return validateAnalysisDate(strings.TrimSpace(val.(string)), time.Now())
	}))
	if err != nil {
		return "", err
	}
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		dateStr = time.Now().Format(models.DateLayout)
	}
	return dateStr, nil
}

// validateAnalysisDate accepts an empty string (today) or a date no more than
// a day ahead of now and no more than five years back.
func validateAnalysisDate(str string, now time.Time) error {
	if str == "" {
		return nil
	}
	parsed, err := time.Parse(models.DateLayout, str)
	if err != nil {
		return fmt.Errorf("invalid date format, use YYYY-MM-DD")
	}
	if parsed.After(now.AddDate(0, 0, 1)) {
		return fmt.Errorf("analysis date cannot be more than 1 day in the future")
	}
	if parsed.Before(now.AddDate(-5, 0, 0)) {
		return fmt.Errorf("analysis date cannot be more than 5 years in the past")
	}
	return nil
}

// PromptForAnalysts prompts the user to select analyst team members
func PromptForAnalysts() ([]models.AnalystType, error) {
	options := make([]string, 0, len(models.AllAnalysts))
	for _, a := range models.AllAnalysts {
		options = append(options, a.DisplayName())
	}

	var selected []string
	prompt := &survey.MultiSelect{
		Message: "Select analyst team members:",
		Options: options,
		Help:    "Use space to select, enter to confirm.",
		Default: options,
	}
	err := survey.AskOne(prompt, &selected, survey.WithValidator(survey.MinItems(1)))
	if err != nil {
		return nil, err
	}

	var result []models.AnalystType
	for _, name := range selected {
		for _, a := range models.AllAnalysts {
			if a.DisplayName() == name {
				result = append(result, a)
			}
		}
	}
	return result, nil
}

var depthLabels = []string{
	"1 - Shallow: quick research, one debate round",
	"2 - Light",
	"3 - Medium: balanced analysis",
	"4 - Thorough",
	"5 - Deep: comprehensive research and debate",
}

// PromptForResearchDepth prompts the user to select research depth
func PromptForResearchDepth(current int) (int, error) {
	def := depthLabels[0]
	if current >= 1 && current <= len(depthLabels) {
		def = depthLabels[current-1]
	}

	var selected string
	prompt := &survey.Select{
		Message: "Select research depth:",
		Options: depthLabels,
		Help:    "More rounds give more comprehensive results but take longer.",
		Default: def,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return 0, err
	}
	for i, l := range depthLabels {
		if l == selected {
			return i + 1, nil
		}
	}
	return 1, nil
}

// PromptForModel asks for one model. It offers the backend's catalogue when
// there is one and falls back to free text otherwise.
func PromptForModel(message string, catalogue []string, current string) (string, error) {
	var model string
	if len(catalogue) == 0 {
		prompt := &survey.Input{Message: message, Default: current}
		err := survey.AskOne(prompt, &model, survey.WithValidator(survey.Required))
		return strings.TrimSpace(model), err
	}

	options := catalogue
	def := catalogue[0]
	if current != "" {
		found := false
		for _, m := range catalogue {
			if m == current {
				found = true
				break
			}
		}
		if !found {
			options = append([]string{current}, catalogue...)
		}
		def = current
	}
	prompt := &survey.Select{
		Message:  message,
		Options:  options,
		Default:  def,
		PageSize: 12,
	}
	err := survey.AskOne(prompt, &model)
	return model, err
}

// PromptForSecret reads a credential without echoing it.
func PromptForSecret(slot credentials.Slot) (string, error) {
	var value string
	prompt := &survey.Password{
		Message: fmt.Sprintf("Enter value for %s:", slot),
		Help:    "The value is stored in the local credential file. Leave empty to clear the slot.",
	}
	err := survey.AskOne(prompt, &value)
	return strings.TrimSpace(value), err
}

// PromptForConfirmation shows the request summary and asks to proceed.
func (a *app) PromptForConfirmation(req models.AnalysisRequest) (bool, error) {
	a.printer.Section("Analysis configuration")
	a.printer.Field("Ticker", req.Ticker)
	a.printer.Field("Date", req.AnalysisDate)
	a.printer.Field("Analysts", strings.Join(analystDisplayNames(req.Analysts), ", "))
	a.printer.Field("Depth", fmt.Sprint(req.ResearchDepth))
	a.printer.Field("Quick model", req.QuickThinkLLM)
	a.printer.Field("Deep model", req.DeepThinkLLM)
	a.printer.Field("Embedding", req.EmbeddingModel)
	fmt.Fprintln(a.out)

	var confirmed bool
	prompt := &survey.Confirm{
		Message: "Proceed with this analysis configuration?",
		Default: true,
	}
	err := survey.AskOne(prompt, &confirmed)
	return confirmed, err
}

// PromptYesNo asks a plain yes/no question.
func PromptYesNo(message string, def bool) (bool, error) {
	var ok bool
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &ok)
	return ok, err
}

// PromptForRestartOrExit prompts user when analysis completes
func PromptForRestartOrExit() (bool, error) {
	var choice string
	prompt := &survey.Select{
		Message: "What would you like to do next?",
		Options: []string{
			"Start a new analysis",
			"Exit",
		},
		Default: "Exit",
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return false, err
	}
	return choice == "Start a new analysis", nil
}

func analystDisplayNames(analysts []string) []string {
	out := make([]string, 0, len(analysts))
	for _, a := range analysts {
		out = append(out, models.AnalystType(a).DisplayName())
	}
	return out
}
