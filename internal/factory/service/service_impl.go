package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/factory/domain"
	"github.com/diewerk/toolledger/pkg/db/option"
	"github.com/diewerk/toolledger/pkg/repository"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Store repository.Repository[domain.Factory]
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	store repository.Repository[domain.Factory]
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("factory.service"),
		genID: p.GenID,
		store: p.Store,
	}
}

func (s *Service) Get(ctx context.Context, factoryID string) (*domain.Factory, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(factoryID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidFactoryID
	}
	factory, err := s.store.FindOne(ctx, &domain.Factory{ID: id})
	if err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, domain.ErrFactoryNotFound
	}
	return factory, nil
}

func (s *Service) GetBySlug(ctx context.Context, value string) (*domain.Factory, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, domain.ErrFactoryNotFound
	}
	factory, err := s.store.FindOne(ctx, &domain.Factory{Slug: slug.Make(value)})
	if err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, domain.ErrFactoryNotFound
	}
	return factory, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Factory, error) {
	rows, err := s.store.Find(ctx, &domain.Factory{}, option.WithSortBy("name", false))
	if err != nil {
		return nil, err
	}
	factories := make([]domain.Factory, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		factories = append(factories, *row)
	}
	return factories, nil
}

func (s *Service) Ensure(ctx context.Context, req domain.EnsureRequest) (*domain.Factory, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	factorySlug := slug.Make(name)
	existing, err := s.store.FindOne(ctx, &domain.Factory{Slug: factorySlug})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	factory := &domain.Factory{
		ID:           s.genID.Generate(),
		Name:         name,
		Slug:         factorySlug,
		Capabilities: pq.StringArray(req.Capabilities),
	}
	if err := s.store.Create(ctx, factory); err != nil {
		return nil, err
	}
	s.log.Info("registered maintenance site",
		zap.String("factory_id", factory.ID.String()),
		zap.String("slug", factorySlug),
	)
	return factory, nil
}

func (s *Service) DisplayNames(ctx context.Context) (map[snowflake.ID]string, error) {
	factories, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[snowflake.ID]string, len(factories))
	for _, factory := range factories {
		names[factory.ID] = factory.Name
	}
	return names, nil
}
