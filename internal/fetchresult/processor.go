package fetchresult

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oilwatch/priceintel/internal/health"
	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/observation"
)

// HealthRecorder records scrape outcomes.
type HealthRecorder interface {
	RecordOutcome(ctx context.Context, supplierID uuid.UUID, success bool) (*health.Transition, error)
}

// Ingester stores price observations.
type Ingester interface {
	Ingest(ctx context.Context, o *model.PriceObservation) (*observation.IngestResult, error)
}

// Rejection is a record whose health or price was not applied.
type Rejection struct {
	Line       int       `json:"line"`
	SupplierID uuid.UUID `json:"supplier_id,omitempty"`
	Reason     string    `json:"reason"`
}

// Report summarises a Process call.
type Report struct {
	Records     int         `json:"records"`
	Successes   int         `json:"successes"`
	Failures    int         `json:"failures"`
	Transitions int         `json:"transitions"`
	Ingested    int         `json:"ingested"`
	Superseded  int         `json:"superseded"`
	Rejected    []Rejection `json:"rejected,omitempty"`
}

// Processor applies fetch results: the health outcome first, then the
// price of a successful fetch as a scraped observation.
type Processor struct {
	health  HealthRecorder
	obs     Ingester
	limiter *rate.Limiter

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewProcessor creates a Processor. A positive perSecond throttles records.
func NewProcessor(h HealthRecorder, obs Ingester, perSecond float64) *Processor {
	p := &Processor{
		health:  h,
		obs:     obs,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
	if perSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return p
}

// Process applies records in order. Validation failures and unknown
// suppliers are reported per record; any other error stops processing.
func (p *Processor) Process(ctx context.Context, recs []Record) (*Report, error) {
	log := zap.L().With(zap.String("component", "fetchresult.processor"))
	rep := &Report{}

	for _, rec := range recs {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return rep, err
			}
		} else if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Records++
		fr := rec.Result

		tr, err := p.health.RecordOutcome(ctx, fr.SupplierID, fr.Success)
		if errors.Is(err, health.ErrSupplierNotFound) {
			rep.Rejected = append(rep.Rejected, Rejection{Line: rec.Line, SupplierID: fr.SupplierID, Reason: "unknown supplier"})
			continue
		}
		if err != nil {
			return rep, err
		}
		if tr != nil && health.Changed(tr.From, tr.To) {
			rep.Transitions++
		}
		if !fr.Success {
			rep.Failures++
			log.Debug("fetch failed", zap.String("supplier_id", fr.SupplierID.String()), zap.String("error", fr.Error))
			continue
		}
		rep.Successes++

		observed := fr.FetchedAt
		if observed.IsZero() {
			observed = p.nowFunc()
		}
		res, err := p.obs.Ingest(ctx, &model.PriceObservation{
			SupplierID:   fr.SupplierID,
			PricePerUnit: *fr.Price,
			FuelType:     fr.FuelType,
			SourceType:   model.SourceScraped,
			SourceURL:    fr.SourceURL,
			ObservedAt:   observed,
		})
		var ve *observation.ValidationError
		if errors.As(err, &ve) {
			rep.Rejected = append(rep.Rejected, Rejection{Line: rec.Line, SupplierID: fr.SupplierID, Reason: ve.Error()})
			log.Warn("scraped price rejected",
				zap.Int("line", rec.Line),
				zap.String("supplier_id", fr.SupplierID.String()),
				zap.String("field", ve.Field),
				zap.String("reason", ve.Reason),
			)
			continue
		}
		if err != nil {
			return rep, err
		}
		rep.Ingested++
		rep.Superseded += len(res.Superseded)
	}

	log.Info("fetch results processed",
		zap.Int("records", rep.Records),
		zap.Int("successes", rep.Successes),
		zap.Int("failures", rep.Failures),
		zap.Int("transitions", rep.Transitions),
		zap.Int("ingested", rep.Ingested),
		zap.Int("rejected", len(rep.Rejected)),
	)
	return rep, nil
}
