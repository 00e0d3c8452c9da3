package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/auth"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/config"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/notify"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type dataStore interface {
	board.Transactor
	board.EntryReader
	board.Directory
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier notify.Channel
	authz    rbac.Authorizer
	resolver *board.Resolver
	filters  *board.FilterBuilder
	logger   *slog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, notifier notify.Channel, logger *slog.Logger) *Service {
	return newService(cfg, dataStore, notifier, logger)
}

func newService(cfg config.Config, dataStore dataStore, notifier notify.Channel, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = slog.New(requestIDHandler{logger.Handler()})
	authz := rbac.PermissionAuthorizer{}
	resolver := board.NewResolver(dataStore)
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		notifier: notifier,
		authz:    authz,
		resolver: resolver,
		filters:  board.NewFilterBuilder(resolver, authz),
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PrincipalFromToken verifies a bearer token and loads the acting user.
func (s *Service) PrincipalFromToken(ctx context.Context, token string) (rbac.Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return rbac.Principal{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return rbac.Principal{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if board.IsNotFound(err) {
			return rbac.Principal{}, auth.ErrInvalidToken
		}
		return rbac.Principal{}, fmt.Errorf("load principal: %w", err)
	}
	return user.Principal(), nil
}

func (s *Service) CanAccess(actor rbac.Principal) bool {
	return s.authz.CanAccess(actor)
}

func (s *Service) CanSeeAll(actor rbac.Principal) bool {
	return s.authz.CanSeeAll(actor)
}

type EntryPage struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Data   []board.Entry `json:"data"`
}

// ListEntries returns one page of the board for workflowID as seen by actor.
// userID board.AllUsers lists every assignment when the actor may see all.
func (s *Service) ListEntries(ctx context.Context, actor rbac.Principal, workflowID, userID int64, offset, limit int) (EntryPage, error) {
	if !s.authz.CanAccess(actor) {
		return EntryPage{}, errForbidden
	}
	filter, err := s.filters.Build(ctx, actor, workflowID, userID)
	if err != nil {
		return EntryPage{}, err
	}

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	total, err := s.store.CountEntries(ctx, filter)
	if err != nil {
		return EntryPage{}, fmt.Errorf("count entries: %w", err)
	}
	data := []board.Entry{}
	if offset < total {
		data, err = s.store.FindEntries(ctx, filter, offset, limit)
		if err != nil {
			return EntryPage{}, fmt.Errorf("find entries: %w", err)
		}
	}
	return EntryPage{Total: total, Offset: offset, Limit: limit, Data: data}, nil
}
