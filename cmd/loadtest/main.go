package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/version"
)

const idempotencyHeader = "Idempotency-Key"

type loadMode string

const (
	modeCreate        loadMode = "create"
	modeCreateConfirm loadMode = "create-confirm"
	modeCreateCancel  loadMode = "create-cancel"
)

type config struct {
	baseURL     string
	total       int
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	stock       int
	price       decimal.Decimal
	quantity    int
	productID   string
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockCheck сверяет итоговый остаток с числом успешно размещённых и отменённых заказов.
type stockCheck struct {
	ProductID  string `json:"product_id"`
	Initial    int    `json:"initial"`
	Final      int    `json:"final"`
	Expected   int    `json:"expected"`
	Consistent bool   `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	PlacedOrders      int64                   `json:"placed_orders"`
	RejectedOrders    int64                   `json:"rejected_orders"`
	CanceledOrders    int64                   `json:"canceled_orders"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             stockCheck              `json:"stock"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats

	placed   int64
	rejected int64
	canceled int64
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[strconv.Itoa(code)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) count(placed, rejected, canceled int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placed += placed
	c.rejected += rejected
	c.canceled += canceled
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		PlacedOrders:    c.placed,
		RejectedOrders:  c.rejected,
		CanceledOrders:  c.canceled,
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, n := range stats.codes {
			codesCopy[code] = n
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg        config
		modeValue  string
		priceValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-confirm | create-cancel")
	fs.IntVar(&cfg.stock, "stock", 100, "initial stock of the contended product")
	fs.StringVar(&priceValue, "price", "9.99", "unit price of the contended product")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.StringVar(&cfg.productID, "product-id", "", "existing product to contend on; a fresh one is created when empty")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer email prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.productID = strings.TrimSpace(cfg.productID)

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.price.LessThan(decimal.RequireFromString("0.01")):
		return cfg, errors.New("price must be >= 0.01")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateConfirm:
		return modeCreateConfirm, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	r := &runner{cfg: cfg, client: &http.Client{Timeout: cfg.timeout}, runID: uuid.NewString()[:8]}
	result, err := r.run(context.Background())
	if err != nil {
		log.WithError(err).Fatal("load test failed")
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			log.WithError(err).Fatal("failed to write report")
		}
	}
	if result.FailedScenarios > 0 || !result.Stock.Consistent {
		os.Exit(1)
	}
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type runner struct {
	cfg    config
	client httpDoer
	runID  string
}

// run готовит товар, гоняет сценарии и сверяет итоговый остаток.
func (r *runner) run(ctx context.Context) (report, error) {
	productID, initial, err := r.prepareProduct(ctx)
	if err != nil {
		return report{}, err
	}

	startedAt := time.Now()
	col := newCollector()
	jobs := make(chan int, r.cfg.concurrency*2)

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				r.runScenario(ctx, productID, index, col)
			}
		}()
	}
	dispatchJobs(jobs, r.cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	final, err := r.productStock(ctx, productID)
	if err != nil {
		return result, fmt.Errorf("read final stock: %w", err)
	}
	expected := initial - int(result.PlacedOrders-result.CanceledOrders)*r.cfg.quantity
	result.Stock = stockCheck{
		ProductID:  productID,
		Initial:    initial,
		Final:      final,
		Expected:   expected,
		Consistent: final == expected && final >= 0,
	}
	return result, nil
}

func (r *runner) prepareProduct(ctx context.Context) (string, int, error) {
	if r.cfg.productID != "" {
		stock, err := r.productStock(ctx, r.cfg.productID)
		return r.cfg.productID, stock, err
	}

	body := map[string]any{
		"name":     "Load test " + r.runID,
		"price":    r.cfg.price.StringFixed(2),
		"stock":    r.cfg.stock,
		"category": "loadtest",
		"isActive": true,
	}
	var created struct {
		ID    string `json:"id"`
		Stock int    `json:"stock"`
	}
	code, err := r.call(ctx, http.MethodPost, "/api/products", "", body, &created)
	if err != nil {
		return "", 0, fmt.Errorf("create product: %w", err)
	}
	if code != http.StatusCreated {
		return "", 0, fmt.Errorf("create product: unexpected status %d", code)
	}
	return created.ID, created.Stock, nil
}

func (r *runner) productStock(ctx context.Context, id string) (int, error) {
	var product struct {
		Stock int `json:"stock"`
	}
	code, err := r.call(ctx, http.MethodGet, "/api/products/"+id, "", nil, &product)
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, fmt.Errorf("get product %s: unexpected status %d", id, code)
	}
	return product.Stock, nil
}

// runScenario считает 409 при создании штатным отказом: товар закончился.
func (r *runner) runScenario(ctx context.Context, productID string, index int, col *collector) {
	start := time.Now()
	ok := true
	defer func() {
		code := http.StatusOK
		if !ok {
			code = http.StatusInternalServerError
		}
		col.record("scenario", time.Since(start), code, ok)
	}()

	body := map[string]any{
		"customerName":  "Load " + r.runID,
		"customerEmail": fmt.Sprintf("%s-%s-%d@example.com", r.cfg.customerTag, r.runID, index),
		"orderItems":    []map[string]any{{"productId": productID, "quantity": r.cfg.quantity}},
	}
	var order struct {
		ID string `json:"id"`
	}
	code, err := r.timedCall(ctx, "CreateOrder", http.MethodPost, "/api/orders",
		fmt.Sprintf("lt-create-%s-%d", r.runID, index), body, &order, col, http.StatusCreated, http.StatusConflict)
	switch {
	case err != nil:
		ok = false
		return
	case code == http.StatusConflict:
		col.count(0, 1, 0)
		return
	case code != http.StatusCreated || order.ID == "":
		ok = false
		return
	}
	col.count(1, 0, 0)

	switch r.cfg.mode {
	case modeCreateConfirm:
		path := "/api/orders/" + order.ID + "/status?status=CONFIRMED"
		code, err = r.timedCall(ctx, "ConfirmOrder", http.MethodPut, path,
			fmt.Sprintf("lt-confirm-%s-%d", r.runID, index), nil, nil, col, http.StatusOK)
		ok = err == nil && code == http.StatusOK
	case modeCreateCancel:
		code, err = r.timedCall(ctx, "CancelOrder", http.MethodDelete, "/api/orders/"+order.ID,
			fmt.Sprintf("lt-cancel-%s-%d", r.runID, index), nil, nil, col, http.StatusNoContent)
		ok = err == nil && code == http.StatusNoContent
		if ok {
			col.count(0, 0, 1)
		}
	}
}

func (r *runner) timedCall(
	ctx context.Context,
	method, httpMethod, path, key string,
	body, out any,
	col *collector,
	expected ...int,
) (int, error) {
	start := time.Now()
	code, err := r.call(ctx, httpMethod, path, key, body, out)

	ok := err == nil
	if ok {
		ok = false
		for _, want := range expected {
			if code == want {
				ok = true
				break
			}
		}
	}
	col.record(method, time.Since(start), code, ok)
	return code, err
}

func (r *runner) call(ctx context.Context, method, path, key string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", version.Current().UserAgent("loadtest"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s total=%d placed=%d rejected=%d canceled=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		result.TotalScenarios,
		result.PlacedOrders,
		result.RejectedOrders,
		result.CanceledOrders,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	_, _ = fmt.Fprintf(w, "stock: product=%s initial=%d final=%d expected=%d consistent=%v\n",
		result.Stock.ProductID, result.Stock.Initial, result.Stock.Final, result.Stock.Expected, result.Stock.Consistent)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
