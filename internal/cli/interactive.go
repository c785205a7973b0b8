package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/task"
)

// runInteractiveMode walks the user through one analysis at a time until they
// choose to exit.
func (a *app) runInteractiveMode(ctx context.Context) error {
	a.showWelcome(ctx)

	catalogue, tickers := a.backendCatalogue(ctx)
	for {
		err := a.interactiveRound(ctx, catalogue, tickers)
		switch {
		case errors.Is(err, terminal.InterruptErr):
			fmt.Fprintln(a.out)
			a.printer.Info("Bye.")
			return nil
		case errors.Is(err, errDeclined):
			a.printer.Info("Analysis cancelled.")
		case err != nil && !errors.Is(err, task.ErrAbandoned):
			a.printer.Error(err)
		}

		again, err := PromptForRestartOrExit()
		if err != nil || !again {
			a.printer.Info("Bye.")
			return nil
		}
		fmt.Fprintln(a.out)
	}
}

var errDeclined = errors.New("declined")

func (a *app) interactiveRound(ctx context.Context, catalogue *models.ConfigResponse, tickers []models.Ticker) error {
	ticker, err := PromptForTicker(tickers)
	if err != nil {
		return err
	}
	date, err := PromptForAnalysisDate()
	if err != nil {
		return err
	}
	analysts, err := PromptForAnalysts()
	if err != nil {
		return err
	}
	depth, err := PromptForResearchDepth(a.cfg.ResearchDepth)
	if err != nil {
		return err
	}

	available := catalogue.Models()
	quick, err := PromptForModel("Select quick-thinking model:", available,
		firstNonEmpty(a.cfg.QuickThinkLLM, catalogue.DefaultString("quick_think_llm")))
	if err != nil {
		return err
	}
	deep, err := PromptForModel("Select deep-thinking model:", available,
		firstNonEmpty(a.cfg.DeepThinkLLM, catalogue.DefaultString("deep_think_llm")))
	if err != nil {
		return err
	}

	req, err := a.buildRequest(ticker, analyzeOptions{
		date:       date,
		analysts:   models.AnalystNames(analysts),
		depth:      depth,
		quickModel: quick,
		deepModel:  deep,
	})
	if err != nil {
		return err
	}

	ok, err := a.PromptForConfirmation(req)
	if err != nil {
		return err
	}
	if !ok {
		return errDeclined
	}

	_, err = a.runAnalysis(ctx, req, analyzeOptions{})
	return err
}

func (a *app) showWelcome(ctx context.Context) {
	a.printer.Title("📈 cortexctl " + Version)
	fmt.Fprintln(a.out, "Multi-agent trading analysis, run on a remote backend.")
	fmt.Fprintln(a.out)

	backend, err := a.backend()
	if err != nil {
		a.printer.Error(err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h, err := backend.Health(ctx)
	if err != nil {
		a.printer.Error(fmt.Errorf("backend %s is not reachable: %w", backend.BaseURL(), err))
		return
	}
	a.printer.Health(backend.BaseURL(), h)
	fmt.Fprintln(a.out)
}

// backendCatalogue fetches the model catalogue and ticker list. Either may be
// nil when the backend does not answer.
func (a *app) backendCatalogue(ctx context.Context) (*models.ConfigResponse, []models.Ticker) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := a.backendConfig(ctx, false)
	if err != nil {
		a.log.Debug("backend config unavailable", "err", err)
		cfg = nil
	}
	tickers, err := a.backendTickers(ctx, false)
	if err != nil {
		a.log.Debug("backend tickers unavailable", "err", err)
	}
	return cfg, tickers
}
