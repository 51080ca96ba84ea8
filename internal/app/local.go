package app

import (
	"context"

	"linkdeck/internal/collection"
)

// LocalPersistence runs the persistence contract in process against the
// service, on behalf of one session. linkctl uses it for --local runs.
type LocalPersistence struct {
	service *Service
	session Session
}

func NewLocalPersistence(service *Service, session Session) *LocalPersistence {
	return &LocalPersistence{service: service, session: session}
}

func (p *LocalPersistence) Session() Session {
	return p.session
}

func (p *LocalPersistence) List(ctx context.Context, scope collection.Scope) ([]collection.Item, error) {
	return p.service.ListItems(ctx, p.session, scope.Kind, scope.Key)
}

func (p *LocalPersistence) Create(ctx context.Context, scope collection.Scope, fields map[string]string) (collection.Item, error) {
	return p.service.CreateItem(ctx, p.session, scope.Kind, scope.Key, fields)
}

func (p *LocalPersistence) Update(ctx context.Context, scope collection.Scope, id string, fields map[string]string) (collection.Item, error) {
	return p.service.UpdateItem(ctx, p.session, scope.Kind, scope.Key, id, fields)
}

func (p *LocalPersistence) Delete(ctx context.Context, scope collection.Scope, id string) error {
	return p.service.DeleteItem(ctx, p.session, scope.Kind, scope.Key, id)
}

func (p *LocalPersistence) Reorder(ctx context.Context, scope collection.Scope, ids []string) error {
	return p.service.ReorderItems(ctx, p.session, scope.Kind, scope.Key, ids)
}

var _ collection.Persistence = (*LocalPersistence)(nil)
