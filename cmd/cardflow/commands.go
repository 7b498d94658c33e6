package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/cardflow/pkg/client"
)

// command implements the client-side subcommands. Each method builds a
// short-lived API client from the command's flags and prints a human
// readable summary of the response.
type command struct{}

func apiClient(api APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	if api.APIUrl != "" {
		cfg.BaseURL = api.APIUrl
	}
	if api.APITimeout > 0 {
		cfg.Timeout = api.APITimeout
	}
	return client.New(cfg)
}

func apiContext(api APIFlags) (context.Context, context.CancelFunc) {
	timeout := api.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (command) Create(flags CreateFlags) error {
	ctx, cancel := apiContext(flags.API)
	defer cancel()

	card, err := apiClient(flags.API).CreateCard(ctx, client.CreateCardRequest{
		CardID:       flags.CardID,
		CustomerID:   flags.CustomerID,
		CustomerName: flags.CustomerName,
		MobileNumber: flags.Mobile,
		Address:      flags.Address,
		Priority:     flags.Priority,
	})
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	fmt.Printf("Card %s created (stage=%s, priority=%s)\n", card.ID, card.CurrentStage, card.Priority)
	return nil
}

func (command) Update(flags UpdateFlags) error {
	ctx, cancel := apiContext(flags.API)
	defer cancel()

	card, err := apiClient(flags.API).UpdateStatus(ctx, flags.CardID, client.StatusUpdateRequest{
		Status:         flags.Status,
		Source:         flags.Source,
		Location:       flags.Location,
		TrackingNumber: flags.Tracking,
		Message:        flags.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	fmt.Printf("Card %s advanced to %s (version=%d)\n", card.ID, card.CurrentStage, card.Version)
	return nil
}

func (command) Status(cardID string, api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	card, err := apiClient(api).GetCard(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to get card: %w", err)
	}
	printCard(card)
	fmt.Println("History:")
	for _, e := range card.Events {
		dwell := ""
		if e.DurationMinutes != nil {
			dwell = fmt.Sprintf(" (%d min)", *e.DurationMinutes)
		}
		fmt.Printf("  %s  %-20s %s%s\n", e.OccurredAt.Format(time.RFC3339), e.Stage, e.Source, dwell)
	}
	return nil
}

func (command) Search(q string, limit int, api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	cards, err := apiClient(api).SearchCards(ctx, q, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(cards) == 0 {
		fmt.Println("No matches")
		return nil
	}
	for i := range cards {
		printCard(&cards[i])
	}
	return nil
}

func (command) Delayed(threshold time.Duration, api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	cards, err := apiClient(api).DelayedCards(ctx, threshold)
	if err != nil {
		return fmt.Errorf("failed to list delayed cards: %w", err)
	}
	if len(cards) == 0 {
		fmt.Println("No delayed cards")
		return nil
	}
	fmt.Printf("%d delayed card(s):\n", len(cards))
	for i := range cards {
		c := &cards[i]
		fmt.Printf("  %-12s %-20s age=%s\n", c.ID, c.CurrentStage, time.Since(c.CreatedAt).Round(time.Minute))
	}
	return nil
}

func (command) Analyze(api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	res, err := apiClient(api).RunAnalysis(ctx)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	fmt.Printf("Analysis for %s: %d stage(s) analyzed, %d critical\n", res.Day, res.StagesAnalyzed, res.CriticalCount)
	return nil
}

func (command) Bottlenecks(limit int, severity string, api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	list, err := apiClient(api).Bottlenecks(ctx, limit, severity)
	if err != nil {
		return fmt.Errorf("failed to list bottlenecks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No bottlenecks recorded")
		return nil
	}
	for _, b := range list {
		fmt.Printf("%-20s %-8s mean=%.0fmin p95=%dmin delayed=%d/%d\n",
			b.Stage, b.Severity, b.MeanMinutes, b.P95Minutes, b.DelayedCount, b.SampleCount)
		for _, r := range b.Recommendations {
			fmt.Printf("    - %s\n", r)
		}
	}
	return nil
}

func (command) Dashboard(timeRange time.Duration, api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	d, err := apiClient(api).Dashboard(ctx, timeRange)
	if err != nil {
		return fmt.Errorf("failed to load dashboard: %w", err)
	}
	fmt.Printf("Range: %s\n", d.Range)
	fmt.Printf("Total: %d  InFlight: %d  Delivered: %d  Failed: %d\n", d.Total, d.InFlight, d.Delivered, d.Failed)
	if len(d.ByStage) > 0 {
		fmt.Println("By stage:")
		for stage, n := range d.ByStage {
			fmt.Printf("  %-20s %d\n", stage, n)
		}
	}
	for _, b := range d.TopBottlenecks {
		fmt.Printf("Bottleneck: %s (%s, delay ratio %.0f%%)\n", b.Stage, b.Severity, b.DelayRatio*100)
	}
	return nil
}

func (command) Insights(api APIFlags) error {
	ctx, cancel := apiContext(api)
	defer cancel()

	list, err := apiClient(api).Insights(ctx)
	if err != nil {
		return fmt.Errorf("failed to load insights: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No insights")
		return nil
	}
	for _, in := range list {
		fmt.Printf("[%s] %s: %s\n", in.Severity, in.Type, in.Title)
		fmt.Printf("    %s\n", in.Description)
		if in.Recommendation != "" {
			fmt.Printf("    -> %s\n", in.Recommendation)
		}
	}
	return nil
}

func printCard(c *client.Card) {
	fmt.Printf("%-12s %-20s priority=%-8s customer=%s", c.ID, c.CurrentStage, c.Priority, c.SubjectID)
	if c.CustomerName != "" {
		fmt.Printf(" (%s)", c.CustomerName)
	}
	fmt.Println()
}
