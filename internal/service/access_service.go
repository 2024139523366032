package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// Token length bounds, in hex characters.
const (
	DefaultTokenLength = 16
	MinTokenLength     = 8
	MaxTokenLength     = 64
)

// Access link query parameters.
const (
	ParamReviewer    = "reviewer"
	ParamToken       = "token"
	ParamMonth       = "month"
	ParamYear        = "year"
	ParamFingerprint = "fingerprint"
)

type snapshotReader interface {
	Get(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error)
	GetLatest(ctx context.Context) (*models.DatasetSnapshot, error)
}

// AccessService derives and verifies capability tokens binding a reviewer to
// a review period. Tokens are recomputed on every check; nothing is stored.
//
// Without a secret the token is derivable by anyone who knows the reviewer id,
// the period and the hash. It obscures links, it does not authenticate. Set a
// secret to key the hash server-side.
type AccessService struct {
	secret      []byte
	tokenLength int
	baseURL     string
	snapshots   snapshotReader
	metrics     *MetricsService
	logger      *zap.Logger
}

// AccessServiceConfig configures token derivation.
type AccessServiceConfig struct {
	Secret      string
	TokenLength int
	BaseURL     string
}

// NewAccessService constructs the token service.
func NewAccessService(cfg AccessServiceConfig, snapshots snapshotReader, metrics *MetricsService, logger *zap.Logger) *AccessService {
	length := cfg.TokenLength
	switch {
	case length == 0:
		length = DefaultTokenLength
	case length < MinTokenLength:
		length = MinTokenLength
	case length > MaxTokenLength:
		length = MaxTokenLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var secret []byte
	if cfg.Secret != "" {
		secret = []byte(cfg.Secret)
	}
	return &AccessService{
		secret:      secret,
		tokenLength: length,
		baseURL:     cfg.BaseURL,
		snapshots:   snapshots,
		metrics:     metrics,
		logger:      logger,
	}
}

// Keyed reports whether tokens are keyed by a server-side secret.
func (s *AccessService) Keyed() bool {
	return len(s.secret) > 0
}

// IssueLinkParams returns the token for reviewerID and period.
func (s *AccessService) IssueLinkParams(reviewerID string, period models.ReviewPeriod) string {
	var h hash.Hash
	if s.Keyed() {
		h = hmac.New(sha256.New, s.secret)
	} else {
		h = sha256.New()
	}
	_, _ = h.Write([]byte(strings.TrimSpace(reviewerID) + "|" + period.String()))
	return hex.EncodeToString(h.Sum(nil))[:s.tokenLength]
}

// Verify recomputes the token and compares in constant time. Malformed input
// yields false.
func (s *AccessService) Verify(reviewerID string, period models.ReviewPeriod, supplied string) bool {
	if strings.TrimSpace(reviewerID) == "" || !period.Valid() || len(supplied) != s.tokenLength {
		return false
	}
	if _, err := hex.DecodeString(padHex(supplied)); err != nil {
		return false
	}
	expected := s.IssueLinkParams(reviewerID, period)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(supplied)))
}

// BuildLink renders the access link for a reviewer.
func (s *AccessService) BuildLink(baseURL, reviewerID string, period models.ReviewPeriod, fingerprint string) (string, error) {
	if baseURL == "" {
		baseURL = s.baseURL
	}
	if strings.TrimSpace(reviewerID) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "reviewer id is required")
	}
	if !period.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, "invalid review period")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid base url %q", baseURL))
	}
	q := u.Query()
	q.Set(ParamReviewer, strings.TrimSpace(reviewerID))
	q.Set(ParamToken, s.IssueLinkParams(reviewerID, period))
	q.Set(ParamMonth, strconv.Itoa(period.Month))
	q.Set(ParamYear, strconv.Itoa(period.Year))
	if fingerprint != "" {
		q.Set(ParamFingerprint, fingerprint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IssueLinks builds links for reviewers. When reviewers is empty every
// reviewer assigned in the snapshot receives one.
func (s *AccessService) IssueLinks(ctx context.Context, period models.ReviewPeriod, fingerprint string, reviewers []string) ([]models.AccessLink, error) {
	if !period.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid review period")
	}
	var snapshot *models.DatasetSnapshot
	var err error
	if fingerprint == "" {
		snapshot, err = s.snapshots.GetLatest(ctx)
	} else {
		snapshot, err = s.snapshots.Get(ctx, fingerprint)
	}
	if err != nil {
		return nil, err
	}
	if len(reviewers) == 0 {
		reviewers = snapshot.Reviewers()
	}

	links := make([]models.AccessLink, 0, len(reviewers))
	for _, reviewer := range reviewers {
		link, err := s.BuildLink("", reviewer, period, snapshot.Fingerprint)
		if err != nil {
			return nil, err
		}
		links = append(links, models.AccessLink{
			ReviewerID:  strings.TrimSpace(reviewer),
			Period:      period,
			Fingerprint: snapshot.Fingerprint,
			Token:       s.IssueLinkParams(reviewer, period),
			URL:         link,
		})
	}
	return links, nil
}

// ParseAccessRequest reads the access link parameters. Missing or unparsable
// values leave the request unverifiable rather than failing, so every broken
// link produces the same denial.
func ParseAccessRequest(values url.Values) models.AccessRequest {
	month, _ := strconv.Atoi(strings.TrimSpace(values.Get(ParamMonth)))
	year, _ := strconv.Atoi(strings.TrimSpace(values.Get(ParamYear)))
	return models.AccessRequest{
		ReviewerID:  strings.TrimSpace(values.Get(ParamReviewer)),
		Token:       strings.TrimSpace(values.Get(ParamToken)),
		Period:      models.ReviewPeriod{Month: month, Year: year},
		Fingerprint: strings.TrimSpace(values.Get(ParamFingerprint)),
	}
}

// Authorize checks the request token. Failures are indistinguishable.
func (s *AccessService) Authorize(req models.AccessRequest) error {
	if !s.Verify(req.ReviewerID, req.Period, req.Token) {
		s.metrics.RecordAccessDenied()
		s.logger.Info("access denied", zap.String("reviewer_id", req.ReviewerID))
		return appErrors.ErrAccessUnavailable
	}
	return nil
}

// Resolve authorizes the request and returns the reviewer's slice of the
// snapshot it refers to. A request without fingerprint falls back to the
// latest snapshot and is flagged degraded.
func (s *AccessService) Resolve(ctx context.Context, req models.AccessRequest) (*models.AccessGrant, error) {
	if err := s.Authorize(req); err != nil {
		return nil, err
	}

	degraded := req.Fingerprint == ""
	var snapshot *models.DatasetSnapshot
	var err error
	if degraded {
		snapshot, err = s.snapshots.GetLatest(ctx)
	} else {
		snapshot, err = s.snapshots.Get(ctx, req.Fingerprint)
	}
	if err != nil {
		if errors.Is(err, appErrors.ErrSnapshotNotFound) {
			return nil, appErrors.WrapAs(err, appErrors.ErrDatasetUnavailable, "")
		}
		return nil, err
	}

	return &models.AccessGrant{
		ReviewerID: req.ReviewerID,
		Period:     req.Period,
		Degraded:   degraded,
		Snapshot:   snapshot.ForReviewer(req.ReviewerID),
	}, nil
}

func padHex(s string) string {
	if len(s)%2 == 1 {
		return s + "0"
	}
	return s
}
