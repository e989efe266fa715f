package dataloader

import (
	"context"
	"net/http"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/graph-gophers/dataloader"
)

type contextKey string

const key = contextKey("dataloaders")

// DefaultWait - окно, в течение которого ключи собираются в одну пачку.
const DefaultWait = time.Millisecond

// ProfileSource загружает профили пачкой.
type ProfileSource interface {
	GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error)
}

// Loaders содержит все дата-лоадеры приложения.
type Loaders struct {
	ProfileByID *dataloader.Loader
}

// NewProfileLoader создает лоадер профилей. Отсутствующий профиль дает nil без ошибки.
func NewProfileLoader(source ProfileSource, wait time.Duration) *dataloader.Loader {
	// Создаем батч-функцию для лоадера
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		uids := keys.Keys()

		// Один запрос к хранилищу на всю пачку
		profiles, err := source.GetProfilesByIDs(ctx, uids)
		results := make([]*dataloader.Result, len(keys))
		if err != nil {
			// В случае ошибки, возвращаем ее для всех ключей
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Формируем результат в том же порядке, что и ключи
		for i, uid := range uids {
			var p *domain.UserProfile
			if found, ok := profiles[uid]; ok {
				p = found
			}
			results[i] = &dataloader.Result{Data: p}
		}
		return results
	}

	return dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))
}

// LoadProfiles загружает профили по списку ID через лоадер.
// Ошибка одного ключа не прерывает загрузку остальных: такие ID попадают в failed.
func LoadProfiles(ctx context.Context, loader *dataloader.Loader, uids []string) (profiles map[string]*domain.UserProfile, failed map[string]error) {
	profiles = make(map[string]*domain.UserProfile, len(uids))
	if len(uids) == 0 {
		return profiles, nil
	}

	data, errs := loader.LoadMany(ctx, dataloader.NewKeysFromStrings(uids))()
	for i, uid := range uids {
		if i < len(errs) && errs[i] != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[uid] = errs[i]
			continue
		}
		if i < len(data) {
			if p, ok := data[i].(*domain.UserProfile); ok && p != nil {
				profiles[uid] = p
			}
		}
	}
	return profiles, failed
}

// Middleware для внедрения лоадеров в контекст запроса.
func Middleware(source ProfileSource, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loaders := Loaders{
			ProfileByID: NewProfileLoader(source, DefaultWait),
		}

		// Помещаем их в контекст
		ctx := context.WithValue(r.Context(), key, &loaders)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// For извлекает лоадеры из контекста.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(key).(*Loaders)
	return loaders
}
