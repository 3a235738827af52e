package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"labelpool/api/internal/auth"
	"labelpool/api/internal/config"
	"labelpool/api/internal/engine"
	"labelpool/api/internal/export"
	"labelpool/api/internal/features"
	"labelpool/api/internal/importer"
	"labelpool/api/internal/labels"
	"labelpool/api/internal/media"
	"labelpool/api/internal/passcode"
	"labelpool/api/internal/rbac"
	"labelpool/api/internal/store"
	"labelpool/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	AnnotatorID  string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetAnnotator(context.Context, string) (store.Annotator, error)
	ListAnnotators(context.Context) ([]store.Annotator, error)
	InsertAnnotator(context.Context, store.Annotator) error
	SetAnnotatorRole(context.Context, string, string) error
	Ping(ctx context.Context) error
}

// sessionStore is satisfied by both the Redis session backend and the
// Postgres store, so a deployment without Redis loses nothing.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.Annotator, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Annotator, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type mediaSigner interface {
	SignURL(ctx context.Context, objectName string) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	engine   *engine.Engine
	importer *importer.Importer
	exporter *export.Service
	media    mediaSigner
	vocab    *features.Vocabulary
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, eng *engine.Engine, imp *importer.Importer, exp *export.Service, presigner *media.Presigner, vocab *features.Vocabulary) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		engine:   eng,
		importer: imp,
		exporter: exp,
		vocab:    vocab,
	}
	if presigner != nil {
		s.media = presigner
	}
	return s
}

// ---- sessions ----

// SignIn resolves a bare passcode to an annotator account. Codes are stored
// bcrypt-hashed, so the lookup compares against each account; the annotator
// population is small enough that this stays cheap.
func (s *Service) SignIn(ctx context.Context, code string) (Session, error) {
	if code == "" {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid passcode", nil)
	}

	annotators, err := s.store.ListAnnotators(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, annotator := range annotators {
		if !passcode.Verify(annotator.PasscodeHash, code) {
			continue
		}
		if err := s.checkValidity(ctx, annotator); err != nil {
			return Session{}, err
		}
		return s.issueSession(ctx, annotator)
	}
	return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid passcode", nil)
}

// checkValidity enforces the account limits: activation, validity date, and
// the optional judgment cap.
func (s *Service) checkValidity(ctx context.Context, annotator store.Annotator) error {
	panel, err := s.engine.PanelFor(ctx, annotator.ID)
	if err != nil {
		return err
	}
	if !annotator.CanJudge(time.Now(), panel.Completed) {
		return domainError(http.StatusForbidden, "PASSCODE_EXPIRED", "Passcode is no longer valid", nil)
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	annotator, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, annotator)
}

func (s *Service) issueSession(ctx context.Context, annotator store.Annotator) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   annotator.ID,
		Email: annotator.Email,
		Role:  annotator.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), annotator, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		AnnotatorID:  annotator.ID,
		Email:        annotator.Email,
		Role:         annotator.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	annotator, err := s.store.GetAnnotator(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		AnnotatorID: annotator.ID,
		Email:       annotator.Email,
		Role:        annotator.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- judging ----

// NextItem serves the annotator's next assignment, or {"empty": true} once
// nothing is left for them.
func (s *Service) NextItem(ctx context.Context, session Session) (map[string]any, error) {
	annotator, err := s.store.GetAnnotator(ctx, session.AnnotatorID)
	if err != nil {
		return nil, err
	}
	if err := s.checkValidity(ctx, annotator); err != nil {
		return nil, err
	}

	item, err := s.engine.ServeNext(ctx, session.AnnotatorID, rbac.IsPro(rbac.Normalize(session.Role)))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return map[string]any{"empty": true}, nil
	}
	return s.itemPayload(ctx, *item)
}

func (s *Service) itemPayload(ctx context.Context, item store.Item) (map[string]any, error) {
	mediaURL := item.MediaFile
	if s.media != nil {
		signed, err := s.media.SignURL(ctx, item.MediaFile)
		if err != nil {
			return nil, err
		}
		mediaURL = signed
	}

	payload := map[string]any{
		"empty":        false,
		"id":           item.ID,
		"content":      item.Content,
		"username":     item.Username,
		"webUrl":       item.WebURL,
		"mediaUrl":     mediaURL,
		"playCount":    item.PlayCount,
		"shareCount":   item.ShareCount,
		"commentCount": item.CommentCount,
		"duration":     item.Duration,
	}
	if item.PostedAt != nil {
		payload["postedAt"] = item.PostedAt.UTC().Format(time.RFC3339)
	}
	return payload, nil
}

func (s *Service) SubmitJudgment(ctx context.Context, session Session, itemID, classification string, feats []string) error {
	return s.engine.SubmitJudgment(ctx, engine.Judgment{
		AnnotatorID:    session.AnnotatorID,
		Pro:            rbac.IsPro(rbac.Normalize(session.Role)),
		ItemID:         itemID,
		Classification: classification,
		Features:       feats,
	})
}

func (s *Service) Panel(ctx context.Context, session Session) (map[string]any, error) {
	panel, err := s.engine.PanelFor(ctx, session.AnnotatorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"completed": panel.Completed,
		"remaining": panel.Remaining,
		"byLabel":   panel.ByLabel,
	}, nil
}

func (s *Service) GlobalPanel(ctx context.Context) (map[string]any, error) {
	global, err := s.engine.Global(ctx)
	if err != nil {
		return nil, err
	}

	annotators := make([]map[string]any, 0, len(global.Annotators))
	for _, breakdown := range global.Annotators {
		annotators = append(annotators, map[string]any{
			"annotatorId": breakdown.AnnotatorID,
			"email":       breakdown.Email,
			"completed":   breakdown.Completed,
			"byLabel":     breakdown.ByLabel,
		})
	}
	return map[string]any{
		"annotators":    annotators,
		"totalItems":    global.TotalItems,
		"totalsByLabel": global.TotalsByLabel,
	}, nil
}

func (s *Service) FeatureList() map[string]any {
	labels := []string{}
	if s.vocab != nil {
		labels = s.vocab.Labels()
	}
	return map[string]any{
		"labels":   s.engine.Domain().Labels,
		"features": labels,
	}
}

// ---- administration ----

// CreateAnnotator provisions an account and returns the generated passcode.
// Only the bcrypt hash is stored, so this response is the one chance to
// read the code.
func (s *Service) CreateAnnotator(ctx context.Context, email string, pro bool, validUntil *time.Time, maxJudgments *int) (map[string]any, error) {
	if email == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}

	code, err := passcode.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := passcode.Hash(code)
	if err != nil {
		return nil, err
	}

	role := rbac.RoleStandard
	if pro {
		role = rbac.RolePro
	}
	annotator := store.Annotator{
		ID:           util.NewID("ann"),
		Email:        email,
		PasscodeHash: hash,
		Role:         string(role),
		Activated:    true,
		ValidUntil:   validUntil,
		MaxJudgments: maxJudgments,
	}
	if err := s.store.InsertAnnotator(ctx, annotator); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":       annotator.ID,
		"email":    annotator.Email,
		"role":     annotator.Role,
		"passcode": code,
	}, nil
}

func (s *Service) Annotators(ctx context.Context) (map[string]any, error) {
	annotators, err := s.store.ListAnnotators(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(annotators))
	for _, annotator := range annotators {
		entry := map[string]any{
			"id":        annotator.ID,
			"email":     annotator.Email,
			"role":      annotator.Role,
			"activated": annotator.Activated,
		}
		if annotator.ValidUntil != nil {
			entry["validUntil"] = annotator.ValidUntil.UTC().Format(time.RFC3339)
		}
		if annotator.MaxJudgments != nil {
			entry["maxJudgments"] = *annotator.MaxJudgments
		}
		items = append(items, entry)
	}
	return map[string]any{"annotators": items}, nil
}

func (s *Service) PromoteAnnotator(ctx context.Context, id string) error {
	if _, err := s.store.GetAnnotator(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Annotator not found", nil)
		}
		return err
	}
	return s.store.SetAnnotatorRole(ctx, id, string(rbac.RolePro))
}

func (s *Service) ImportItems(ctx context.Context, videos []importer.VideoRecord, tweets []importer.TweetRecord) (map[string]any, error) {
	var report importer.Report
	if len(videos) > 0 {
		videoReport, err := s.importer.ImportVideos(ctx, videos)
		if err != nil {
			return nil, err
		}
		report.Inserted += videoReport.Inserted
		report.Duplicates += videoReport.Duplicates
		report.Filtered += videoReport.Filtered
	}
	if len(tweets) > 0 {
		tweetReport, err := s.importer.ImportTweets(ctx, tweets)
		if err != nil {
			return nil, err
		}
		report.Inserted += tweetReport.Inserted
		report.Duplicates += tweetReport.Duplicates
		report.Filtered += tweetReport.Filtered
	}
	return map[string]any{
		"inserted":   report.Inserted,
		"duplicates": report.Duplicates,
		"filtered":   report.Filtered,
	}, nil
}

// Cleanup re-filters the stored corpus. The text quality filter only makes
// sense for tweets; video descriptions are free-form and often short.
func (s *Service) Cleanup(ctx context.Context) (map[string]any, error) {
	if s.engine.Domain().Name != labels.Tweet.Name {
		return nil, domainError(http.StatusConflict, "WRONG_DOMAIN", "Cleanup only applies to the tweet domain", nil)
	}
	report, err := s.importer.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"filtered": report.Filtered,
		"removed":  report.Removed,
	}, nil
}

func (s *Service) ExportClassificationsCSV(ctx context.Context) (*export.Result, error) {
	return s.exporter.ClassificationsCSV(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
