package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// Instance describes one running engine process whose metrics endpoint can be
// scraped.
type Instance struct {
	// Runner is the name of the runner served by the instance.
	Runner string
	// Backend is the backend that spawned the engine.
	Backend string
	// Model is the model tag loaded into the engine.
	Model string
	// Mode is the engine operation mode.
	Mode string
	// Socket is the Unix domain socket the engine serves on.
	Socket string
}

// InstanceLister enumerates running engine instances. It is implemented by
// the scheduler.
type InstanceLister interface {
	ActiveInstances() []Instance
}

// AggregatedHandler serves the daemon's own series merged with series scraped
// from every running engine, the latter labeled with their runner identity.
type AggregatedHandler struct {
	log      logging.Logger
	recorder *Recorder
	lister   InstanceLister
}

// NewAggregatedHandler creates an aggregated metrics handler.
func NewAggregatedHandler(log logging.Logger, recorder *Recorder, lister InstanceLister) *AggregatedHandler {
	return &AggregatedHandler{
		log:      log,
		recorder: recorder,
		lister:   lister,
	}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (h *AggregatedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	allFamilies := make(map[string]*dto.MetricFamily)

	// The daemon's own series come straight from the registry.
	own, err := h.recorder.Registry().Gather()
	if err != nil {
		h.log.Warnf("Failed to gather daemon metrics: %v", err)
	}
	for _, family := range own {
		allFamilies[family.GetName()] = family
	}

	h.collectInstanceMetrics(r.Context(), allFamilies)
	h.writeFamilies(w, allFamilies)
}

// collectInstanceMetrics scrapes every active engine instance concurrently
// and merges the labeled results into allFamilies.
func (h *AggregatedHandler) collectInstanceMetrics(ctx context.Context, allFamilies map[string]*dto.MetricFamily) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, instance := range h.lister.ActiveInstances() {
		wg.Add(1)
		go func(instance Instance) {
			defer wg.Done()

			families, err := h.fetchInstanceMetrics(ctx, instance)
			if err != nil {
				h.log.Warnf("Failed to fetch metrics from instance %s (%s): %v",
					instance.Runner, instance.Backend, err,
				)
				return
			}

			labels := map[string]string{
				"runner":  instance.Runner,
				"backend": instance.Backend,
				"model":   instance.Model,
				"mode":    instance.Mode,
			}

			mu.Lock()
			addLabelsAndMerge(families, labels, allFamilies)
			mu.Unlock()
		}(instance)
	}
	wg.Wait()
}

// fetchInstanceMetrics fetches and parses the metrics of a single engine
// instance over its Unix domain socket.
func (h *AggregatedHandler) fetchInstanceMetrics(ctx context.Context, instance Instance) (map[string]*dto.MetricFamily, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.DialTimeout("unix", instance.Socket, 5*time.Second)
			},
		},
		Timeout: 10 * time.Second,
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/metrics", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("unable to create metrics request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode)
	}

	parser := expfmt.TextParser{}
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to parse metrics: %w", err)
	}
	return families, nil
}

// addLabelsAndMerge attaches the instance labels to every metric in families
// and merges the result into allFamilies.
func addLabelsAndMerge(families map[string]*dto.MetricFamily, labels map[string]string, allFamilies map[string]*dto.MetricFamily) {
	for name, family := range families {
		for _, metric := range family.GetMetric() {
			for key, value := range labels {
				metric.Label = append(metric.Label, &dto.LabelPair{
					Name:  &key,
					Value: &value,
				})
			}
		}

		if existing, ok := allFamilies[name]; ok {
			existing.Metric = append(existing.Metric, family.GetMetric()...)
		} else {
			allFamilies[name] = family
		}
	}
}

// writeFamilies encodes the merged families in the Prometheus text format,
// ordered by family name for stable output.
func (h *AggregatedHandler) writeFamilies(w http.ResponseWriter, families map[string]*dto.MetricFamily) {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, name := range names {
		if err := encoder.Encode(families[name]); err != nil {
			h.log.Warnf("Failed to encode metric family %s: %v", name, err)
		}
	}
}
