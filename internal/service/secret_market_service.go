package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/secretmarket/internal/crypto"
	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/platform/manifold"
)

// Options tunes market creation and reveal behaviour.
type Options struct {
	HashAlgorithm  string
	TitlePrefix    string
	InitialProb    int
	Visibility     string
	MaxCriteriaLen int
	// Attribution is appended to every market description as
	// "Created with <Attribution>". Empty disables it.
	Attribution string
}

// DefaultOptions mirrors config.Defaults.
func DefaultOptions() Options {
	return Options{
		HashAlgorithm:  crypto.AlgSHA256,
		TitlePrefix:    "Secret Market",
		InitialProb:    50,
		Visibility:     "unlisted",
		MaxCriteriaLen: 10000,
	}
}

// Deps are the collaborators of SecretMarketService. Platform, Store, Cipher
// and Revealer are required; the rest may be nil.
type Deps struct {
	Platform domain.MarketPlatform
	Store    domain.RecordStore
	Cipher   Cipher
	Revealer *Revealer
	Cache    domain.RecordCache
	Journal  domain.OrphanJournal
	Proofs   domain.ProofArchive
	Events   *Events
}

// SecretMarketService runs the market lifecycle: commit, create, persist,
// then later reveal, resolve and disclose. Each operation is independent;
// none retries or rolls back another.
type SecretMarketService struct {
	platform domain.MarketPlatform
	store    domain.RecordStore
	cipher   Cipher
	revealer *Revealer
	cache    domain.RecordCache
	journal  domain.OrphanJournal
	proofs   domain.ProofArchive
	events   *Events
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

// NewSecretMarketService creates a SecretMarketService.
func NewSecretMarketService(deps Deps, opts Options, logger *slog.Logger) *SecretMarketService {
	if opts.HashAlgorithm == "" {
		opts.HashAlgorithm = crypto.AlgSHA256
	}
	return &SecretMarketService{
		platform: deps.Platform,
		store:    deps.Store,
		cipher:   deps.Cipher,
		revealer: deps.Revealer,
		cache:    deps.Cache,
		journal:  deps.Journal,
		proofs:   deps.Proofs,
		events:   deps.Events,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "secret_market_service")),
	}
}

// CreateRequest is the input of CreateSecretMarket.
type CreateRequest struct {
	Criteria string
	APIKey   string
	// Password, when set, encrypts the criteria instead of APIKey and is
	// itself stored wrapped under APIKey.
	Password  string
	CloseTime time.Time
	// Question overrides the generated title. The hash prefix is still
	// appended.
	Question string
}

// CreateResult is the outcome of a successful CreateSecretMarket.
type CreateResult struct {
	ID            string `json:"id"`
	Hash          string `json:"hash"`
	HashAlgorithm string `json:"hash_algorithm"`
	URL           string `json:"url"`
	Slug          string `json:"slug"`
	HasPassword   bool   `json:"has_password"`
}

// CreateSecretMarket commits to req.Criteria on the platform and stores the
// encrypted criteria. The external market is created first; if storing the
// record then fails the error is a *domain.PersistenceError naming the
// orphaned market, which is journalled for the reconciler.
func (s *SecretMarketService) CreateSecretMarket(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return CreateResult{}, err
	}

	hash, err := crypto.Fingerprint(s.opts.HashAlgorithm, []byte(req.Criteria))
	if err != nil {
		return CreateResult{}, fmt.Errorf("service: fingerprint criteria: %w", err)
	}

	criteriaKey := req.APIKey
	if req.Password != "" {
		criteriaKey = req.Password
	}
	encCriteria, err := s.cipher.Encrypt([]byte(req.Criteria), criteriaKey)
	if err != nil {
		return CreateResult{}, fmt.Errorf("service: encrypt criteria: %w", err)
	}
	var encPassword string
	if req.Password != "" {
		if encPassword, err = s.cipher.Encrypt([]byte(req.Password), req.APIKey); err != nil {
			return CreateResult{}, fmt.Errorf("service: encrypt password: %w", err)
		}
	}

	market, err := s.platform.CreateMarket(ctx, req.APIKey, domain.NewExternalMarket{
		Question:    s.title(req.Question, hash),
		Description: s.description(hash, encCriteria, req.Password != ""),
		InitialProb: s.opts.InitialProb,
		CloseTime:   req.CloseTime,
		Visibility:  s.opts.Visibility,
	})
	if err != nil {
		return CreateResult{}, asUpstream("create market", err)
	}

	rec := domain.MarketRecord{
		ID:                market.ID,
		EncryptedCriteria: encCriteria,
		CriteriaHash:      hash,
		HashAlgorithm:     s.opts.HashAlgorithm,
		EncryptedPassword: encPassword,
		CreatedAt:         s.now().UTC(),
	}
	ev := domain.LifecycleEvent{MarketID: market.ID, Hash: hash, At: rec.CreatedAt}

	if err := s.store.Insert(ctx, rec); err != nil {
		s.orphaned(ctx, rec, err)
		ev.Type = domain.EventMarketOrphaned
		s.events.Emit(ctx, "", ev, map[string]any{"error": err.Error(), "url": market.URL}, "Store insert failed: "+err.Error())
		return CreateResult{}, &domain.PersistenceError{Op: "insert record", ExternalID: market.ID, Err: err}
	}

	if s.proofs != nil {
		if err := s.proofs.Archive(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "archive proof failed",
				slog.String("market_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	ev.Type = domain.EventMarketCreated
	s.events.Emit(ctx, domain.ChannelMarketCreated, ev,
		map[string]any{"hash": hash, "has_password": rec.HasPassword(), "url": market.URL},
		"URL: "+market.URL)

	s.logger.InfoContext(ctx, "secret market created",
		slog.String("market_id", rec.ID),
		slog.String("hash", hash),
		slog.Bool("has_password", rec.HasPassword()),
	)

	return CreateResult{
		ID:            market.ID,
		Hash:          hash,
		HashAlgorithm: s.opts.HashAlgorithm,
		URL:           market.URL,
		Slug:          market.Slug,
		HasPassword:   rec.HasPassword(),
	}, nil
}

func (s *SecretMarketService) validateCreate(req CreateRequest) error {
	var problems []string
	if strings.TrimSpace(req.Criteria) == "" {
		problems = append(problems, "criteria is required")
	} else if s.opts.MaxCriteriaLen > 0 && utf8.RuneCountInString(req.Criteria) > s.opts.MaxCriteriaLen {
		problems = append(problems, fmt.Sprintf("criteria exceeds %d characters", s.opts.MaxCriteriaLen))
	}
	if req.APIKey == "" {
		problems = append(problems, "api key is required")
	}
	if req.CloseTime.IsZero() {
		problems = append(problems, "close time is required")
	} else if !req.CloseTime.After(s.now()) {
		problems = append(problems, "close time must be in the future")
	}
	if len(problems) > 0 {
		return domain.NewValidationError(problems...)
	}
	return nil
}

// orphaned journals a record whose insert failed after the external market
// was created.
func (s *SecretMarketService) orphaned(ctx context.Context, rec domain.MarketRecord, cause error) {
	log := s.logger.With(slog.String("market_id", rec.ID))
	log.ErrorContext(ctx, "external market created but record not stored",
		slog.String("error", cause.Error()),
	)
	if s.journal == nil {
		log.ErrorContext(ctx, "no orphan journal configured; record is lost",
			slog.String("hash", rec.CriteriaHash),
		)
		return
	}
	// The request context may be the reason the insert failed.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.journal.Record(jctx, rec); err != nil {
		log.ErrorContext(ctx, "orphan journal write failed", slog.String("error", err.Error()))
	}
}

func (s *SecretMarketService) title(question, hash string) string {
	short := hash
	if len(short) > 8 {
		short = short[:8]
	}
	if q := strings.TrimSpace(question); q != "" {
		return fmt.Sprintf("%s [%s]", q, short)
	}
	return fmt.Sprintf("%s %s", s.opts.TitlePrefix, short)
}

func (s *SecretMarketService) description(hash, encCriteria string, withPassword bool) domain.RichText {
	paras := []string{
		fmt.Sprintf("The %s hash of this market's resolution criteria is %s.", algorithmLabel(s.opts.HashAlgorithm), hash),
	}
	if withPassword {
		paras = append(paras, "Resolution criteria (AES encrypted): "+encCriteria)
		if crypto.IsSealed(encCriteria) {
			paras = append(paras, "To decrypt: run `smverify decrypt` with the ciphertext above and the market password.")
		} else {
			paras = append(paras, "To decrypt: Use CryptoJS.AES.decrypt(ciphertext, password).toString(CryptoJS.enc.Utf8)")
		}
	}
	if s.opts.Attribution != "" {
		paras = append(paras, "Created with "+s.opts.Attribution)
	}
	return domain.RichText{Paragraphs: paras}
}

func algorithmLabel(alg string) string {
	if strings.EqualFold(alg, crypto.AlgKeccak256) {
		return "Keccak-256"
	}
	return "SHA256"
}

// GetPublicInfo returns the public part of a record, cache first.
func (s *SecretMarketService) GetPublicInfo(ctx context.Context, id string) (domain.PublicInfo, error) {
	if s.cache != nil {
		if info, err := s.cache.Get(ctx, id); err == nil {
			return info, nil
		}
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.PublicInfo{}, fmt.Errorf("service: get public info %s: %w", id, err)
	}
	info := rec.Public()

	if s.cache != nil {
		if err := s.cache.Set(ctx, info); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return info, nil
}

// RevealCriteria returns the plaintext criteria to a holder of a valid key.
func (s *SecretMarketService) RevealCriteria(ctx context.Context, id, key string) (Revelation, error) {
	return s.revealer.Reveal(ctx, id, key)
}

// RecoverPassword returns the market password to its creator.
func (s *SecretMarketService) RecoverPassword(ctx context.Context, id, apiKey string) (string, error) {
	return s.revealer.RecoverPassword(ctx, id, apiKey)
}

// Resolve resolves the external market. The platform decides whether apiKey
// belongs to the creator; this service only checks the record exists.
func (s *SecretMarketService) Resolve(ctx context.Context, id, apiKey string, res domain.Resolution) error {
	var problems []string
	if apiKey == "" {
		problems = append(problems, "api key is required")
	}
	if !res.Outcome.Valid() {
		problems = append(problems, fmt.Sprintf("outcome must be one of YES, NO, MKT, CANCEL (got %q)", res.Outcome))
	}
	if res.Outcome == domain.OutcomeMKT && (res.ProbabilityInt < 0 || res.ProbabilityInt > 100) {
		problems = append(problems, "probability must be between 0 and 100")
	}
	if len(problems) > 0 {
		return domain.NewValidationError(problems...)
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("service: resolve %s: %w", id, err)
	}
	if err := s.platform.Resolve(ctx, apiKey, id, res); err != nil {
		return asUpstream("resolve market", err)
	}

	ev := domain.LifecycleEvent{
		Type:     domain.EventMarketResolved,
		MarketID: id,
		Hash:     rec.CriteriaHash,
		Outcome:  res.Outcome,
		At:       s.now().UTC(),
	}
	detail := map[string]any{"outcome": string(res.Outcome)}
	if res.Outcome == domain.OutcomeMKT {
		detail["probability"] = res.ProbabilityInt
	}
	s.events.Emit(ctx, domain.ChannelMarketResolved, ev, detail, "")

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", id),
		slog.String("outcome", string(res.Outcome)),
	)
	return nil
}

// Disclose reveals the criteria with revealKey, posts them as a comment on
// the external market as the holder of apiKey, and marks the record revealed.
// If the comment fails the record is untouched; if marking fails after the
// comment was posted a *domain.PersistenceError is returned and the call can
// be retried.
func (s *SecretMarketService) Disclose(ctx context.Context, id, revealKey, apiKey string) (Revelation, error) {
	if apiKey == "" {
		return Revelation{}, domain.NewValidationError("api key is required")
	}
	rev, err := s.revealer.Reveal(ctx, id, revealKey)
	if err != nil {
		return Revelation{}, err
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Revelation{}, fmt.Errorf("service: disclose %s: %w", id, err)
	}

	if err := s.platform.PostComment(ctx, apiKey, id, disclosureComment(rec, rev.Criteria)); err != nil {
		return Revelation{}, asUpstream("post comment", err)
	}

	at := s.now().UTC()
	if err := s.store.MarkRevealed(ctx, id, at); err != nil {
		return Revelation{}, &domain.PersistenceError{Op: "mark revealed", ExternalID: id, Err: err}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.events.Emit(ctx, domain.ChannelMarketDisclosed,
		domain.LifecycleEvent{Type: domain.EventCriteriaDisclosed, MarketID: id, Hash: rec.CriteriaHash, At: at},
		map[string]any{"verified": rev.Verified}, "")

	s.logger.InfoContext(ctx, "criteria disclosed", slog.String("market_id", id))
	return rev, nil
}

func disclosureComment(rec domain.MarketRecord, criteria string) domain.RichText {
	paras := []string{"Resolution criteria revealed:"}
	paras = append(paras, strings.Split(criteria, "\n")...)
	paras = append(paras, fmt.Sprintf("%s of the text above: %s", algorithmLabel(rec.HashAlgorithm), rec.CriteriaHash))
	return domain.RichText{Paragraphs: paras}
}

// MarketDetails joins the public record with the platform's view of the
// market.
type MarketDetails struct {
	domain.PublicInfo
	Question    string     `json:"question"`
	URL         string     `json:"url"`
	Slug        string     `json:"slug"`
	Probability float64    `json:"probability"`
	CloseTime   *time.Time `json:"close_time,omitempty"`
	IsResolved  bool       `json:"is_resolved"`
	Resolution  string     `json:"resolution,omitempty"`
}

// MarketDetails returns public info plus platform data for market id.
func (s *SecretMarketService) MarketDetails(ctx context.Context, id string) (MarketDetails, error) {
	info, err := s.GetPublicInfo(ctx, id)
	if err != nil {
		return MarketDetails{}, err
	}
	m, err := s.platform.GetMarket(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return MarketDetails{}, asUpstream("get market", fmt.Errorf("market %s missing on platform", id))
		}
		return MarketDetails{}, asUpstream("get market", err)
	}
	return MarketDetails{
		PublicInfo:  info,
		Question:    m.Question,
		URL:         m.URL,
		Slug:        m.Slug,
		Probability: m.Probability,
		CloseTime:   m.CloseTime,
		IsResolved:  m.IsResolved,
		Resolution:  m.Resolution,
	}, nil
}

// LookupResult locates a platform market and says whether it is secret.
type LookupResult struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	URL       string `json:"url"`
	Question  string `json:"question"`
	HasRecord bool   `json:"has_record"`
}

// Lookup resolves a market URL or slug to its platform id.
func (s *SecretMarketService) Lookup(ctx context.Context, urlOrSlug string) (LookupResult, error) {
	slug, ok := manifold.SlugFromURL(urlOrSlug)
	if !ok {
		return LookupResult{}, domain.NewValidationError("invalid market url")
	}
	m, err := s.platform.GetMarketBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return LookupResult{}, fmt.Errorf("service: lookup %s: %w", slug, err)
		}
		return LookupResult{}, asUpstream("get market by slug", err)
	}

	res := LookupResult{ID: m.ID, Slug: m.Slug, URL: m.URL, Question: m.Question}
	_, err = s.store.Get(ctx, m.ID)
	switch {
	case err == nil:
		res.HasRecord = true
	case !errors.Is(err, domain.ErrNotFound):
		return LookupResult{}, fmt.Errorf("service: lookup %s: %w", slug, err)
	}
	return res, nil
}

// asUpstream makes sure a platform failure surfaces as *domain.UpstreamError.
func asUpstream(op string, err error) error {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &domain.UpstreamError{Op: op, Err: err}
}
