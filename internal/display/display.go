package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/processing"
	"github.com/dyike/cortexctl/internal/task"
)

const width = 80

type styles struct {
	title     lipgloss.Style
	section   lipgloss.Style
	box       lipgloss.Style
	label     lipgloss.Style
	muted     lipgloss.Style
	progress  lipgloss.Style
	success   lipgloss.Style
	failure   lipgloss.Style
	info      lipgloss.Style
	buy       lipgloss.Style
	sell      lipgloss.Style
	hold      lipgloss.Style
	wrapWidth int
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	fg := func(s lipgloss.Style, c string) lipgloss.Style {
		if !color {
			return s
		}
		return s.Foreground(lipgloss.Color(c))
	}
	border := func(s lipgloss.Style, c string) lipgloss.Style {
		if !color {
			return s
		}
		return s.BorderForeground(lipgloss.Color(c))
	}

	return styles{
		title:     fg(r.NewStyle().Bold(true).Padding(0, 1), "#7C3AED"),
		section:   fg(r.NewStyle().Bold(true).MarginTop(1), "#3B82F6"),
		box:       border(r.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1).Width(width), "#3B82F6"),
		label:     r.NewStyle().Bold(true).Width(18),
		muted:     fg(r.NewStyle(), "#6B7280"),
		progress:  fg(r.NewStyle().Bold(true), "#F59E0B"),
		success:   fg(r.NewStyle().Bold(true), "#10B981"),
		failure:   fg(r.NewStyle().Bold(true), "#EF4444"),
		info:      fg(r.NewStyle(), "#3B82F6"),
		buy:       fg(r.NewStyle().Bold(true), "#10B981"),
		sell:      fg(r.NewStyle().Bold(true), "#EF4444"),
		hold:      fg(r.NewStyle().Bold(true), "#F59E0B"),
		wrapWidth: width - 4,
	}
}

// Printer renders core outputs for a terminal.
type Printer struct {
	w io.Writer
	s styles
}

func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, s: newStyles(lipgloss.NewRenderer(w), color)}
}

func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, p.s.info.Render("ℹ️  "+msg))
}

func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.s.success.Render("✅ "+msg))
}

func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w, p.s.failure.Render("❌ Error: "+err.Error()))
}

func (p *Printer) Field(label, value string) {
	if value == "" {
		value = p.s.muted.Render("-")
	}
	fmt.Fprintf(p.w, "%s %s\n", p.s.label.Render(label+":"), value)
}

func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.s.title.Render(text))
}

func (p *Printer) Section(text string) {
	fmt.Fprintln(p.w, p.s.section.Render(text))
}

// Progress renders one line for a controller state.
func (p *Printer) Progress(st task.State) {
	switch {
	case st.Loading:
		msg := st.Progress
		if msg == "" {
			msg = "working..."
		}
		prefix := ""
		if st.TaskID != "" {
			prefix = shortID(st.TaskID) + " "
		}
		fmt.Fprintln(p.w, p.s.progress.Render("🔄 "+prefix+msg))
	case st.Error != "":
		fmt.Fprintln(p.w, p.s.failure.Render("❌ "+st.Error))
	case st.Result != nil:
		fmt.Fprintln(p.w, p.s.success.Render("✅ analysis completed"))
	}
}

// Result renders a completed analysis. Only the analysts in selected are
// shown; an empty selection shows every report present.
func (p *Printer) Result(res *models.AnalysisResult, selected []models.AnalystType) {
	if res == nil {
		p.Info("no result available")
		return
	}

	p.Title(fmt.Sprintf("📊 Analysis results for %s (%s)", res.Ticker, res.AnalysisDate))
	d, derived := processing.Decision(res)
	p.decision(d, derived)
	p.priceStats(res)

	if res.Reports == nil {
		return
	}
	if len(selected) == 0 {
		selected = models.AllAnalysts
	}
	for _, a := range selected {
		if text := res.Reports.AnalystReport(a); text != "" {
			p.report(a.DisplayName()+" Report", text)
		}
	}
	p.report("Investment Plan", res.Reports.InvestmentPlan)
	p.report("Trader Plan", res.Reports.TraderInvestmentPlan)
	p.debate("Research Debate", res.Reports.InvestmentDebate, []debateSide{
		{"🐂 Bull", func(d *models.DebateState) string { return d.BullHistory }},
		{"🐻 Bear", func(d *models.DebateState) string { return d.BearHistory }},
	})
	p.debate("Risk Debate", res.Reports.RiskDebate, []debateSide{
		{"🔥 Risky", func(d *models.DebateState) string { return d.RiskyHistory }},
		{"🛡️ Safe", func(d *models.DebateState) string { return d.SafeHistory }},
		{"⚖️ Neutral", func(d *models.DebateState) string { return d.NeutralHistory }},
	})
	p.report("Final Trade Decision", res.Reports.FinalTradeDecision)
}

func (p *Printer) decision(d *models.Decision, derived bool) {
	p.Section("🎯 Decision")
	if derived {
		fmt.Fprintln(p.w, p.s.muted.Render("  (derived from the reports, the backend sent no structured decision)"))
	}
	if d == nil || d.Action == "" {
		p.Field("Action", "")
		return
	}
	action := d.NormalizedAction()
	style := p.s.hold
	switch action {
	case "BUY":
		style = p.s.buy
	case "SELL":
		style = p.s.sell
	}
	p.Field("Action", style.Render(action))
	if !d.Quantity.IsZero() {
		p.Field("Quantity", d.Quantity.String())
	}
	if d.Confidence != nil {
		p.Field("Confidence", fmt.Sprintf("%.0f%%", *d.Confidence*100))
	}
	if d.Reasoning != "" {
		fmt.Fprintln(p.w, p.s.box.Render(wrap(d.Reasoning, p.s.wrapWidth)))
	}
}

func (p *Printer) priceStats(res *models.AnalysisResult) {
	if res.PriceStats == nil && len(res.PriceData) == 0 {
		return
	}
	p.Section("📈 Price")
	if st := res.PriceStats; st != nil {
		p.Field("Window", fmt.Sprintf("%s → %s (%d days)", st.StartDate, st.EndDate, st.DurationDays))
		p.Field("Start / End", fmt.Sprintf("%s / %s", st.StartPrice.StringFixed(2), st.EndPrice.StringFixed(2)))
		change := st.Change()
		line := fmt.Sprintf("%s (%s%%)", signed(change.StringFixed(2), change), signed(st.GrowthRate.StringFixed(2), st.GrowthRate))
		style := p.s.success
		if change.IsNegative() {
			style = p.s.failure
		}
		p.Field("Change", style.Render(line))
	}
	if low, high, ok := models.Range(res.PriceData); ok {
		p.Field("Range", fmt.Sprintf("%s – %s over %d sessions", low.StringFixed(2), high.StringFixed(2), len(res.PriceData)))
	}
}

func (p *Printer) report(title, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	p.Section("📋 " + title)
	fmt.Fprintln(p.w, p.s.box.Render(wrap(text, p.s.wrapWidth)))
}

type debateSide struct {
	label string
	text  func(*models.DebateState) string
}

func (p *Printer) debate(title string, d *models.DebateState, sides []debateSide) {
	if d == nil {
		return
	}
	var b strings.Builder
	for _, side := range sides {
		if text := strings.TrimSpace(side.text(d)); text != "" {
			fmt.Fprintf(&b, "%s\n%s\n\n", side.label, wrap(text, p.s.wrapWidth))
		}
	}
	if judge := strings.TrimSpace(d.JudgeDecision); judge != "" {
		fmt.Fprintf(&b, "👨‍⚖️ Judge\n%s", wrap(judge, p.s.wrapWidth))
	}
	if b.Len() == 0 {
		return
	}
	p.Section("⚖️  " + title)
	fmt.Fprintln(p.w, p.s.box.Render(strings.TrimRight(b.String(), "\n")))
}

func signed(s string, d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

func shortID(id string) string {
	if len(id) <= 8 {
		return "[" + id + "]"
	}
	return "[" + id[:8] + "]"
}

// wrap breaks text on word boundaries, keeping existing line breaks.
func wrap(text string, limit int) string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		words := strings.Fields(line)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		cur := words[0]
		for _, w := range words[1:] {
			if len([]rune(cur))+1+len([]rune(w)) > limit {
				out = append(out, cur)
				cur = w
				continue
			}
			cur += " " + w
		}
		out = append(out, cur)
	}
	return strings.Join(out, "\n")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
