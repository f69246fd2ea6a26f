package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/ingest"
	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// ingestionService implements IngestionService.
type ingestionService struct {
	classifier *ingest.Classifier
	router     *ingest.Router
	registry   *registry.Registry
	learner    *learning.PatternLearner
	logger     Logger
	metrics    MetricsCollector

	fallbackDomain string
	lowConfidence  float64
}

// NewIngestionService creates a new ingestion service.
func NewIngestionService(
	classifier *ingest.Classifier,
	router *ingest.Router,
	reg *registry.Registry,
	learner *learning.PatternLearner,
	logger Logger,
	metrics MetricsCollector,
) IngestionService {
	return &ingestionService{
		classifier:     classifier,
		router:         router,
		registry:       reg,
		learner:        learner,
		logger:         logger,
		metrics:        metrics,
		fallbackDomain: "generic",
		lowConfidence:  0.5,
	}
}

// Ingest classifies, routes, and stores one item. Low classification
// confidence is not an error; the item lands in the fallback domain and
// the result carries a warning with the alternatives considered.
func (s *ingestionService) Ingest(ctx context.Context, item map[string]interface{}, opts IngestOptions) (*models.IngestResult, error) {
	return s.ingest(ctx, item, opts)
}

func (s *ingestionService) ingest(ctx context.Context, item map[string]interface{}, opts IngestOptions) (*models.IngestResult, error) {
	timer := s.metrics.StartTimer("ingest")
	defer timer.Stop()
	start := time.Now()

	if item == nil {
		s.metrics.IncrementCounter("ingest_validation_errors")
		return nil, errors.New(errors.CodeInvalidRequest, "item cannot be nil")
	}

	hints := map[string]string{}
	if opts.TypeHint != "" {
		hints["type"] = opts.TypeHint
	}
	if opts.Priority != "" {
		hints["priority"] = opts.Priority
	}

	classification := s.classifier.Classify(item, hints)
	s.logger.Debug("Classified item",
		"data_type", classification.DataType,
		"domain", classification.Domain,
		"tier", classification.Tier,
		"confidence", classification.Confidence)

	warning := ""
	if classification.Confidence < s.lowConfidence {
		s.metrics.IncrementCounter("low_confidence_classifications")
		warning = "classification confidence below threshold, routed to fallback domain"
	}

	routing, err := s.route(classification, opts)
	if err != nil {
		s.metrics.IncrementCounter("ingest_routing_errors")
		s.logger.Error("Routing failed", "error", err, "domain", classification.Domain)
		return nil, err
	}
	defer s.router.ReleaseLoad(routing.BackendID)

	recordID, err := s.store(ctx, routing.BackendID, routing.Domain, item)
	if err != nil {
		s.metrics.IncrementCounter("ingest_store_errors")
		s.logger.Error("Insert failed", "error", err, "backend_id", routing.BackendID)
		s.learner.Report(learning.Outcome{Kind: learning.KindRouting, Key: routing.BackendID, Success: false})
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to store item")
	}

	s.learner.Report(learning.Outcome{Kind: learning.KindRouting, Key: routing.BackendID, Success: true})
	s.learner.RecordAccess(routing.Domain)

	s.metrics.IncrementCounter("successful_ingests")
	s.metrics.RecordHistogram("ingest_time", time.Since(start).Seconds())

	return &models.IngestResult{
		RecordID:       recordID,
		BackendID:      routing.BackendID,
		Classification: &classification,
		Routing:        routing,
		ProcessingTime: time.Since(start),
		Warning:        warning,
	}, nil
}

// route tries the classified domain first, then the fallback domain when
// no eligible backend serves the original one.
func (s *ingestionService) route(c models.ClassificationResult, opts IngestOptions) (*models.RoutingDecision, error) {
	ropts := ingest.RouteOptions{Priority: opts.Priority, Batch: opts.Batch}
	decision, err := s.router.Route(c, ropts)
	if err == nil {
		return decision, nil
	}
	if errors.GetCode(err) != errors.CodeNoEligibleBackend || c.Domain == s.fallbackDomain {
		return nil, err
	}
	fallback := c
	fallback.Domain = s.fallbackDomain
	decision, ferr := s.router.Route(fallback, ropts)
	if ferr != nil {
		return nil, err
	}
	s.metrics.IncrementCounter("fallback_routings")
	return decision, nil
}

func (s *ingestionService) store(ctx context.Context, backendID, domain string, item map[string]interface{}) (string, error) {
	h, err := s.registry.Resolve(backendID)
	if err != nil {
		return "", err
	}
	h.Acquire()
	defer h.Release()
	_ = s.registry.RecordAccess(backendID)

	rec := models.Record{
		ID:        uuid.New().String(),
		Domain:    domain,
		Timestamp: time.Now().UTC(),
		Fields:    item,
	}
	return h.Backend().Insert(ctx, rec)
}

// IngestBatch ingests items concurrently. With FailFast the first error
// cancels the remaining items; otherwise every item is attempted and
// per-item errors are reported in place.
func (s *ingestionService) IngestBatch(ctx context.Context, items []map[string]interface{}, opts BatchOptions) (*models.BatchIngestResult, error) {
	timer := s.metrics.StartTimer("ingest_batch")
	defer timer.Stop()
	start := time.Now()

	if len(items) == 0 {
		return nil, errors.New(errors.CodeInvalidRequest, "batch cannot be empty")
	}
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	result := &models.BatchIngestResult{
		BatchID: uuid.New().String(),
		Items:   make([]models.BatchItemResult, len(items)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	var mu sync.Mutex

	for i := range items {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				mu.Lock()
				result.Items[i] = models.BatchItemResult{Index: i, Error: err.Error()}
				mu.Unlock()
				return nil
			}
			res, err := s.ingest(gctx, items[i], IngestOptions{Batch: true})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Items[i] = models.BatchItemResult{Index: i, Error: err.Error()}
				if opts.FailFast {
					return err
				}
				return nil
			}
			result.Items[i] = models.BatchItemResult{Index: i, Result: res}
			return nil
		})
	}
	err := g.Wait()

	for _, item := range result.Items {
		if item.Error != "" {
			result.Failed++
		} else if item.Result != nil {
			result.Succeeded++
		}
	}
	result.Duration = time.Since(start)

	s.metrics.RecordHistogram("ingest_batch_size", float64(len(items)))
	s.metrics.IncrementCounter("ingest_batches")
	s.logger.Info("Batch ingested",
		"batch_id", result.BatchID,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", result.Duration)

	if err != nil && opts.FailFast {
		return result, errors.Wrap(err, errors.CodeInternal, "batch aborted on first failure")
	}
	return result, nil
}
