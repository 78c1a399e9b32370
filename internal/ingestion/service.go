package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/datasetingest/pkg/audit"
	"github.com/your-org/datasetingest/pkg/storage/versioned"
	"github.com/your-org/datasetingest/pkg/tracing"
)

// Stage is a step of a single ingestion.
type Stage string

const (
	StageReceived     Stage = "received"
	StageValidating   Stage = "validating"
	StageRejected     Stage = "rejected"
	StageValidated    Stage = "validated"
	StageChecksumming Stage = "checksumming"
	StageStoring      Stage = "storing"
	StageCompleted    Stage = "completed"
	StageStoreFailed  Stage = "store_failed"
)

const (
	anonymousUser  = "anonymous"
	unknownSegment = "unknown"
)

// Publisher delivers ingestion notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, value any) error
	Close(ctx context.Context) error
}

// Service wires together validation, storage, auditing and notifications
// for ingestion flows.
type Service struct {
	validator *Validator
	store     *versioned.Store
	audit     *audit.Sink
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Params holds the collaborators of a Service. A nil Audit means the
// process-wide sink, looked up on every write so a Service built before
// audit.Init still records once the sink exists. Publisher is optional.
type Params struct {
	Validator *Validator
	Store     *versioned.Store
	Audit     *audit.Sink
	Publisher Publisher
	Logger    *zap.Logger
}

// UploadRequest is one uploaded file and the identity of its uploader.
type UploadRequest struct {
	Filename string
	Data     []byte
	// ContentLengthHint is the size the transport announced, if known.
	ContentLengthHint int64
	UserID            string
	Segment           string
}

type Result struct {
	IngestionID string
	Dataset     string
	Version     int
	Path        string
	Checksum    string
	Size        int64
	IngestedAt  time.Time
}

// NewService constructs an ingestion Service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		validator: p.Validator,
		store:     p.Store,
		audit:     p.Audit,
		publisher: p.Publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) auditSink() *audit.Sink {
	if s.audit != nil {
		return s.audit
	}
	return audit.Default()
}

// Validator exposes the gates the service applies.
func (s *Service) Validator() *Validator {
	return s.validator
}

// Ingest validates req, stores it as the next version of its dataset and
// records the decision. A rejected upload returns a *RejectionError; a
// storage failure returns an error matching ErrStorage.
func (s *Service) Ingest(ctx context.Context, req UploadRequest) (*Result, error) {
	req = withIdentity(req)
	id := uuid.NewString()
	log := s.logger.With(zap.String("ingestion_id", id), zap.String("filename", req.Filename))

	ctx, span := tracing.StartIngest(ctx, id, len(req.Data))
	defer span.End()

	enter := func(stage Stage) {
		log.Debug("ingestion stage", zap.String("stage", string(stage)))
		span.AddEvent(string(stage))
	}
	enter(StageReceived)

	enter(StageValidating)
	validated, err := s.validator.Validate(req)
	if err != nil {
		enter(StageRejected)
		s.deny(id, req, err)
		var rej *RejectionError
		if errors.As(err, &rej) {
			tracing.Rejected(span, string(rej.Class), rej.Reason)
		}
		return nil, err
	}
	enter(StageValidated)

	enter(StageChecksumming)
	checksum := Checksum(req.Data)

	enter(StageStoring)
	artifact, err := s.store.Put(ctx, validated.Dataset, validated.Data, checksum)
	if err != nil {
		enter(StageStoreFailed)
		s.auditSink().Failure(EventIngestFailed, map[string]any{
			"ingestion_id": id,
			"dataset":      validated.Dataset,
			"filename":     req.Filename,
			"user_id":      req.UserID,
			"error":        err.Error(),
		})
		log.Error("store dataset failed", zap.String("dataset", validated.Dataset), zap.Error(err))
		tracing.Failed(span, string(StageStoreFailed), err)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	event := IngestionEvent{
		ID:        id,
		Dataset:   artifact.Dataset,
		Version:   artifact.Version,
		Path:      artifact.Path,
		Checksum:  artifact.Checksum,
		SizeBytes: artifact.Size,
		Filename:  req.Filename,
		UserID:    req.UserID,
		Segment:   req.Segment,
		CreatedAt: s.now(),
	}
	sink := s.auditSink()
	sink.Access(req.UserID, req.Segment, audit.StatusGranted, req.Filename)
	sink.Event(EventDatasetIngested, event.auditDetails())
	enter(StageCompleted)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, artifact.Dataset, NotificationType, event); err != nil {
			log.Warn("publish ingestion notification failed", zap.Error(err))
		}
	}

	tracing.Completed(span, artifact.Dataset, artifact.Version)
	log.Info("dataset ingested",
		zap.String("dataset", artifact.Dataset),
		zap.Int("version", artifact.Version),
		zap.Int64("size", artifact.Size),
	)

	return &Result{
		IngestionID: id,
		Dataset:     artifact.Dataset,
		Version:     artifact.Version,
		Path:        artifact.Path,
		Checksum:    artifact.Checksum,
		Size:        artifact.Size,
		IngestedAt:  event.CreatedAt,
	}, nil
}

// Deny records a rejection decided outside Ingest, such as a request body
// the transport refused to read in full.
func (s *Service) Deny(req UploadRequest, rej *RejectionError) {
	s.deny(uuid.NewString(), withIdentity(req), rej)
}

func (s *Service) deny(id string, req UploadRequest, err error) {
	details := map[string]any{
		"ingestion_id": id,
		"filename":     audit.Excerpt(req.Filename, audit.DefaultExcerptLength),
		"reason":       err.Error(),
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		details["classification"] = string(rej.Class)
	}
	sink := s.auditSink()
	sink.Access(req.UserID, req.Segment, audit.StatusDenied, req.Filename)
	sink.Warning(EventIngestRejected, details)
	s.logger.Info("upload rejected",
		zap.String("ingestion_id", id),
		zap.String("filename", req.Filename),
		zap.String("reason", err.Error()),
	)
}

// Versions lists the stored versions of a dataset.
func (s *Service) Versions(ctx context.Context, dataset string) ([]int, error) {
	return s.store.Versions(ctx, dataset)
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func withIdentity(req UploadRequest) UploadRequest {
	if req.UserID == "" {
		req.UserID = anonymousUser
	}
	if req.Segment == "" {
		req.Segment = unknownSegment
	}
	return req
}
