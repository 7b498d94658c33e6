package client

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/insight"
	"github.com/loykin/cardflow/internal/server"
	"github.com/loykin/cardflow/internal/store"
	"github.com/loykin/cardflow/internal/tracker"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	m := store.NewMemory()
	log := slog.Default()
	hub := fanout.NewHub(log)
	svc := tracker.New(m, hub, log)
	eng := analytics.NewEngine(m, hub, analytics.DefaultThresholds(), log)
	gen := insight.NewGenerator(m, hub, log)
	r := server.NewRouter(svc, eng, gen, hub, m, log, server.Options{})
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL})
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatalf("server should be reachable")
	}

	card, err := c.CreateCard(ctx, CreateCardRequest{
		CardID:       "CARD-1",
		CustomerID:   "CUST-1",
		CustomerName: "Ada Lovelace",
		MobileNumber: "0412345678",
		Priority:     "URGENT",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if card.CurrentStage != "CREATED" || card.Priority != "URGENT" {
		t.Fatalf("unexpected card: %+v", card)
	}
	if !strings.HasSuffix(card.MobileNumber, "5678") || strings.HasPrefix(card.MobileNumber, "0412") {
		t.Fatalf("mobile not masked: %q", card.MobileNumber)
	}

	card, err = c.UpdateStatus(ctx, "CARD-1", StatusUpdateRequest{Status: "QUEUED", Source: "bank"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if card.CurrentStage != "QUEUED" || len(card.Events) != 2 {
		t.Fatalf("unexpected card after update: %+v", card)
	}

	got, err := c.GetCard(ctx, "CARD-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "CARD-1" {
		t.Fatalf("unexpected id: %s", got.ID)
	}

	results, err := c.SearchCards(ctx, "ada", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("search results = %d", len(results))
	}

	if _, err := c.RunAnalysis(ctx); err != nil {
		t.Fatalf("run analysis: %v", err)
	}
	d, err := c.Dashboard(ctx, 0)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Total != 1 {
		t.Fatalf("dashboard total = %d", d.Total)
	}
	if _, err := c.Bottlenecks(ctx, 5, ""); err != nil {
		t.Fatalf("bottlenecks: %v", err)
	}
	if _, err := c.Insights(ctx); err != nil {
		t.Fatalf("insights: %v", err)
	}
	if _, err := c.DelayedCards(ctx, 0); err != nil {
		t.Fatalf("delayed: %v", err)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL})
	ctx := context.Background()

	if _, err := c.GetCard(ctx, "GHOST"); err == nil || !strings.Contains(err.Error(), "API error") {
		t.Fatalf("expected API error, got %v", err)
	}
	if _, err := c.CreateCard(ctx, CreateCardRequest{CustomerID: "X"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	if c.IsReachable(context.Background()) {
		t.Fatalf("expected unreachable")
	}
}
