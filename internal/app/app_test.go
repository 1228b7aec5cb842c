package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/config"
	"arbwatch/internal/storage"
)

func testApp(enabled ...string) (*App, *bytes.Buffer) {
	cfg := &config.Config{
		Assets:    []string{"SOL"},
		Scheduler: config.SchedulerConfig{Interval: time.Second, ReportTimeout: time.Second},
		Sources:   config.SourcesConfig{Enabled: enabled, Timeout: time.Second},
		Export:    config.ExportConfig{MaxDataPoints: 10},
	}
	var buf bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &buf
	return a, &buf
}

func TestSimulatePrintsOpportunity(t *testing.T) {
	a, out := testApp(config.SourceOrca, config.SourceRaydium, config.SourceJupiter)

	if err := a.SimulateAlert(context.Background(), SimulateOptions{Prices: []string{"100", "98", "-"}}); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "buy SOL in RAYDIUM at 98 and sell on ORCA at 100") {
		t.Fatalf("模拟输出缺少套利描述:\n%s", text)
	}
	if !strings.Contains(text, "JUPITER") || !strings.Contains(text, "no_data") {
		t.Fatalf("absent source should be listed as no_data:\n%s", text)
	}
	if !strings.Contains(text, "reason=opportunity") {
		t.Fatalf("unexpected reason:\n%s", text)
	}
}

func TestSimulateEqualAndInsufficient(t *testing.T) {
	a, out := testApp()

	err := a.SimulateAlert(context.Background(), SimulateOptions{Sources: []string{"A", "B"}, Prices: []string{"5", "5"}})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "reason=no_spread") {
		t.Fatalf("equal prices should not be an opportunity:\n%s", out.String())
	}

	out.Reset()
	err = a.SimulateAlert(context.Background(), SimulateOptions{Sources: []string{"A", "B"}, Prices: []string{"5", "-"}})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "reason=insufficient_data") {
		t.Fatalf("single quote should be insufficient:\n%s", out.String())
	}
}

func TestStaticSourcesValidation(t *testing.T) {
	if _, err := staticSources([]string{"A", "B"}, []string{"1"}); err == nil {
		t.Fatal("价格数量与数据源数量不一致时应报错")
	}
	if _, err := staticSources([]string{"A"}, []string{"abc"}); err == nil {
		t.Fatal("invalid price should be rejected")
	}
	if _, err := staticSources(nil, nil); err == nil {
		t.Fatal("empty price list should be rejected")
	}

	sources, err := staticSources([]string{"A", "B"}, []string{"1.5", "-"})
	if err != nil {
		t.Fatalf("static sources: %v", err)
	}
	price, found, err := sources[0].Fetcher.FetchPrice(context.Background(), "X")
	if err != nil || !found || price != 1.5 {
		t.Fatalf("unexpected first source %v %v %v", price, found, err)
	}
	if _, found, _ := sources[1].Fetcher.FetchPrice(context.Background(), "X"); found {
		t.Fatal("dash should produce a missing quote")
	}
}

func TestNewSourcesFollowsConfigOrder(t *testing.T) {
	a, _ := testApp(config.SourceJupiter, config.SourceOrca, config.SourceRaydium)
	a.Config.Sources.Orca.Timeout = 2 * time.Second

	sources, err := a.newSources()
	if err != nil {
		t.Fatalf("new sources: %v", err)
	}
	var names []string
	for _, s := range sources {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "JUPITER,ORCA,RAYDIUM" {
		t.Fatalf("slot order must follow sources.enabled, got %v", names)
	}
	if sources[1].Timeout != 2*time.Second || sources[0].Timeout != 0 {
		t.Fatalf("per-source timeout not carried: %+v", sources)
	}

	a.Config.Sources.Enabled = []string{"binance"}
	if _, err := a.newSources(); err == nil {
		t.Fatal("unknown source should fail")
	}
}

func TestCommandsRequireDatabase(t *testing.T) {
	a, _ := testApp(config.SourceOrca)
	ctx := context.Background()

	if err := a.Show(ctx, ShowOptions{Limit: 5}); err == nil {
		t.Fatal("show without database should fail")
	}
	if err := a.Export(ctx, ExportOptions{CSVPath: "x.csv"}); err == nil {
		t.Fatal("export without database should fail")
	}
	if err := a.Export(ctx, ExportOptions{}); err == nil {
		t.Fatal("export without outputs should fail")
	}
	if err := a.Prune(ctx, time.Hour); err == nil {
		t.Fatal("prune without database should fail")
	}
	if err := a.Prune(ctx, 0); err == nil {
		t.Fatal("non-positive retention should fail")
	}
}

func record(asset string, at time.Time, pct string) storage.OpportunityRecord {
	return storage.OpportunityRecord{
		ReportID:       uuid.New(),
		Asset:          asset,
		CheapestSource: "RAYDIUM",
		CheapestPrice:  decimal.RequireFromString("98"),
		PriciestSource: "ORCA",
		PriciestPrice:  decimal.RequireFromString("100"),
		Spread:         decimal.RequireFromString("2"),
		SpreadPct:      decimal.RequireFromString(pct),
		ThresholdPct:   decimal.RequireFromString("0.5"),
		Sources:        3,
		Channels:       []string{"telegram", "discord"},
		DetectedAt:     at,
	}
}

func TestDownsampleAndFilter(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []storage.OpportunityRecord
	for i := 0; i < 10; i++ {
		asset := "SOL"
		if i%2 == 1 {
			asset = "JUP"
		}
		records = append(records, record(asset, base.Add(time.Duration(i)*time.Minute), "2.04"))
	}

	if got := filterAsset(records, "JUP"); len(got) != 5 {
		t.Fatalf("expected 5 JUP records, got %d", len(got))
	}
	if got := filterAsset(records, ""); len(got) != 10 {
		t.Fatal("empty asset keeps everything")
	}

	sampled := downsampleRecords(records, 4)
	if len(sampled) != 4 {
		t.Fatalf("expected 4 points, got %d", len(sampled))
	}
	if !sampled[0].DetectedAt.Equal(records[0].DetectedAt) || !sampled[3].DetectedAt.Equal(records[9].DetectedAt) {
		t.Fatal("降采样应保留首尾")
	}
	if len(downsampleRecords(records, 1)) != 1 {
		t.Fatal("single point downsample")
	}
}

func TestWriteRecordsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "opps.csv")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := writeRecordsCSV(path, []storage.OpportunityRecord{record("SOL", at, "2.0408")}); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	row := rows[1]
	if row[0] != "2024-05-01T12:00:00Z" || row[2] != "SOL" || row[8] != "2.0408" || row[11] != "telegram;discord" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestShortAsset(t *testing.T) {
	if shortAsset("SOL") != "SOL" {
		t.Fatal("short keys stay intact")
	}
	if got := shortAsset("So11111111111111111111111111111111111111112"); got != "So11…1112" {
		t.Fatalf("unexpected abbreviation %q", got)
	}
}
