package display

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/history"
	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/probe"
)

func (p *Printer) table(header string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, p.s.label.UnsetWidth().Render(header))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

func (p *Printer) Tickers(tickers []models.Ticker) {
	if len(tickers) == 0 {
		p.Info("backend returned no tickers")
		return
	}
	rows := make([][]string, 0, len(tickers))
	for _, t := range tickers {
		rows = append(rows, []string{t.Symbol, t.Name})
	}
	p.table("SYMBOL\tNAME", rows)
}

func (p *Printer) Health(server string, h *models.HealthResponse) {
	p.Field("Server", server)
	status := h.Status
	if strings.EqualFold(status, "healthy") || strings.EqualFold(status, "ok") {
		status = p.s.success.Render(status)
	} else {
		status = p.s.failure.Render(status)
	}
	p.Field("Status", status)
	p.Field("Version", h.Version)
	p.Field("Timestamp", h.Timestamp)
}

// BackendConfig renders the analyst roles and models the backend offers.
func (p *Printer) BackendConfig(cfg *models.ConfigResponse) {
	p.Section("👥 Analysts")
	fmt.Fprintln(p.w, "  "+strings.Join(cfg.AvailableAnalysts, ", "))
	p.Section("🤖 Models")
	for _, provider := range cfg.Providers() {
		fmt.Fprintf(p.w, "  %s: %s\n", p.s.label.UnsetWidth().Render(provider), strings.Join(cfg.Models(provider), ", "))
	}
	if len(cfg.DefaultConfig) > 0 {
		p.Section("⚙️  Defaults")
		for _, key := range []string{"deep_think_llm", "quick_think_llm", "max_debate_rounds", "max_risk_discuss_rounds"} {
			if v, ok := cfg.DefaultConfig[key]; ok {
				p.Field(key, fmt.Sprint(v))
			}
		}
	}
}

func (p *Printer) Credentials(set credentials.CredentialSet, source string) {
	if source != "" {
		p.Field("Stored in", source)
	}
	for _, slot := range credentials.Slots {
		v := set.Get(slot)
		if v == "" {
			p.Field(string(slot), p.s.muted.Render("not set"))
			continue
		}
		p.Field(string(slot), credentials.Mask(v))
	}
	p.Field("custom_base_url", set.CustomBaseURL)
}

func (p *Printer) ProbeResults(results []probe.Result) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := string(r.Outcome)
		switch r.Outcome {
		case probe.OutcomeOK:
			outcome = p.s.success.Render(outcome)
		case probe.OutcomeFailed:
			outcome = p.s.failure.Render(outcome)
		default:
			outcome = p.s.muted.Render(outcome)
		}
		detail := r.Reason
		if r.Outcome == probe.OutcomeOK {
			detail = r.Latency.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{string(r.Role), r.Model, string(r.Provider), outcome, truncate(detail, 60)})
	}
	p.table("ROLE\tMODEL\tPROVIDER\tRESULT\tDETAIL", rows)
}

func (p *Printer) HistoryList(entries []history.Entry) {
	if len(entries) == 0 {
		p.Info("no analyses recorded yet")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.TaskID,
			e.Ticker,
			e.AnalysisDate,
			p.statusText(e.Status),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	p.table("TASK\tTICKER\tDATE\tSTATUS\tSUBMITTED", rows)
}

func (p *Printer) HistoryEntry(e *history.Entry) {
	p.Field("Task", e.TaskID)
	p.Field("Server", e.Server)
	p.Field("Ticker", e.Ticker)
	p.Field("Date", e.AnalysisDate)
	p.Field("Analysts", strings.Join(e.Analysts, ", "))
	p.Field("Depth", fmt.Sprint(e.ResearchDepth))
	p.Field("Models", fmt.Sprintf("quick=%s deep=%s", e.QuickModel, e.DeepModel))
	p.Field("Status", p.statusText(e.Status))
	if e.Progress != "" {
		p.Field("Progress", e.Progress)
	}
	if e.Error != "" {
		p.Field("Error", p.s.failure.Render(e.Error))
	}
	if e.Result != nil {
		fmt.Fprintln(p.w)
		analysts := make([]models.AnalystType, 0, len(e.Analysts))
		for _, a := range e.Analysts {
			analysts = append(analysts, models.AnalystType(a))
		}
		p.Result(e.Result, analysts)
	}
}

func (p *Printer) statusText(s models.TaskState) string {
	switch s {
	case models.TaskCompleted:
		return p.s.success.Render(string(s))
	case models.TaskFailed:
		return p.s.failure.Render(string(s))
	case models.TaskRunning:
		return p.s.progress.Render(string(s))
	}
	return p.s.muted.Render(string(s))
}

// BatchRow is one line of a batch summary.
type BatchRow struct {
	Symbol   string
	Date     string
	TaskID   string
	Status   models.TaskState
	Error    string
	Duration time.Duration
}

func (p *Printer) BatchSummary(rows []BatchRow, total time.Duration) {
	completed := 0
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		if r.Status == models.TaskCompleted {
			completed++
		}
		duration := "N/A"
		if r.Duration > 0 {
			duration = r.Duration.Round(time.Second).String()
		}
		status := r.Status
		if status == "" {
			status = models.TaskPending
		}
		out = append(out, []string{r.Symbol, r.Date, p.statusText(status), duration, r.TaskID, truncate(r.Error, 40)})
	}

	p.Section("📋 Batch summary")
	p.table("SYMBOL\tDATE\tSTATUS\tDURATION\tTASK\tERROR", out)
	fmt.Fprintln(p.w)
	p.Field("Completed", fmt.Sprintf("%d/%d", completed, len(rows)))
	p.Field("Total time", total.Round(time.Second).String())
}
