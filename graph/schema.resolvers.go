package graph

import (
	"context"

	"github.com/UkralStul/fexora/graph/generated"
	"github.com/UkralStul/fexora/graph/model"
	"github.com/UkralStul/fexora/internal/dataloader"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/identity"
)

// === Mutation Resolvers ===

func (r *mutationResolver) Register(ctx context.Context, email string, password string, name *string) (*identity.AccountHandle, error) {
	var n string
	if name != nil {
		n = *name
	}
	return r.Gateway.Register(ctx, email, password, n)
}

func (r *mutationResolver) Login(ctx context.Context, email string, password string) (*identity.AccountHandle, error) {
	return r.Gateway.SignIn(ctx, email, password)
}

func (r *mutationResolver) Logout(ctx context.Context) (bool, error) {
	r.Gateway.SignOut(ctx)
	return true, nil
}

func (r *mutationResolver) RequestPasswordReset(ctx context.Context, email string) (bool, error) {
	if err := r.Gateway.RequestPasswordReset(ctx, email); err != nil {
		return false, err
	}
	return true, nil
}

func (r *mutationResolver) ConfirmPasswordReset(ctx context.Context, token string, password string) (bool, error) {
	if err := r.Gateway.ConfirmPasswordReset(ctx, token, password); err != nil {
		return false, err
	}
	return true, nil
}

func (r *mutationResolver) CreatePost(ctx context.Context, input model.NewPost) (*domain.Post, error) {
	id, err := r.Posts.Create(ctx, r.currentUID(ctx), input.Fields())
	if err != nil {
		return nil, err
	}
	return r.postByID(ctx, "graph.CreatePost", id)
}

func (r *mutationResolver) UpdatePost(ctx context.Context, id string, input domain.PostPatch) (*domain.Post, error) {
	if err := r.Posts.Update(ctx, r.currentUID(ctx), id, input); err != nil {
		return nil, err
	}
	return r.postByID(ctx, "graph.UpdatePost", id)
}

func (r *mutationResolver) DeletePost(ctx context.Context, id string) (bool, error) {
	if err := r.Posts.Delete(ctx, r.currentUID(ctx), id); err != nil {
		return false, err
	}
	return true, nil
}

// === Post Resolvers ===

// AuthorName берет профиль автора через лоадер запроса, поэтому список постов
// обходится одним пакетным запросом к каталогу. Без профиля имя берется из поста.
func (r *postResolver) AuthorName(ctx context.Context, obj *domain.Post) (string, error) {
	var profile *domain.UserProfile
	if loaders := dataloader.For(ctx); loaders != nil {
		profiles, failed := dataloader.LoadProfiles(ctx, loaders.ProfileByID, []string{obj.OwnerID})
		if err := failed[obj.OwnerID]; err != nil {
			r.logger().Warn("author lookup failed, using post snapshot", "uid", obj.OwnerID, "error", err)
		}
		profile = profiles[obj.OwnerID]
	} else {
		p, err := r.Directory.GetProfileByID(ctx, obj.OwnerID)
		if err != nil {
			r.logger().Warn("author lookup failed, using post snapshot", "uid", obj.OwnerID, "error", err)
		}
		profile = p
	}
	return domain.ResolveAuthorName(profile, obj), nil
}

// === Query Resolvers ===

func (r *queryResolver) Feed(ctx context.Context) ([]domain.FeedEntry, error) {
	return r.Resolver.Feed.AssembleFeed(ctx)
}

func (r *queryResolver) Post(ctx context.Context, id string) (*domain.Post, error) {
	return r.Posts.GetByID(ctx, id)
}

func (r *queryResolver) Me(ctx context.Context) (*model.Me, error) {
	account := r.Gateway.Session(ctx).Current()
	if account == nil {
		return nil, domain.E(domain.KindUnauthenticated, "graph.Me", "sign in required")
	}
	profile, err := r.Directory.GetProfileByID(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return &model.Me{Account: account, Profile: profile}, nil
}

func (r *queryResolver) MyPosts(ctx context.Context) ([]*domain.Post, error) {
	uid, err := r.requireUID(ctx, "graph.MyPosts")
	if err != nil {
		return nil, err
	}
	return r.Posts.ListByOwner(ctx, uid)
}

// === Subscription Resolvers ===

func (r *subscriptionResolver) FeedUpdated(ctx context.Context) (<-chan []domain.FeedEntry, error) {
	sub, err := r.Resolver.Feed.Watch(ctx)
	if err != nil {
		return nil, err
	}
	return forward(ctx, sub, r.logger(), "feed"), nil
}

func (r *subscriptionResolver) MyPosts(ctx context.Context) (<-chan []*domain.Post, error) {
	uid, err := r.requireUID(ctx, "graph.MyPostsUpdated")
	if err != nil {
		return nil, err
	}
	sub, err := r.Posts.WatchByOwner(ctx, uid)
	if err != nil {
		return nil, err
	}
	return forward(ctx, sub, r.logger(), "my-posts"), nil
}

// === helpers ===

func (r *Resolver) currentUID(ctx context.Context) string {
	if a := r.Gateway.Session(ctx).Current(); a != nil {
		return a.ID
	}
	return ""
}

func (r *Resolver) requireUID(ctx context.Context, op string) (string, error) {
	uid := r.currentUID(ctx)
	if uid == "" {
		return "", domain.E(domain.KindUnauthenticated, op, "sign in required")
	}
	return uid, nil
}

func (r *Resolver) postByID(ctx context.Context, op, id string) (*domain.Post, error) {
	post, err := r.Posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, domain.E(domain.KindNotFound, op, "post not found")
	}
	return post, nil
}

// === Boilerplate: Связывание резолверов с интерфейсами схемы ===

// Mutation returns generated.MutationResolver implementation.
func (r *Resolver) Mutation() generated.MutationResolver { return &mutationResolver{r} }

// Post returns generated.PostResolver implementation.
func (r *Resolver) Post() generated.PostResolver { return &postResolver{r} }

// Query returns generated.QueryResolver implementation.
func (r *Resolver) Query() generated.QueryResolver { return &queryResolver{r} }

// Subscription returns generated.SubscriptionResolver implementation.
func (r *Resolver) Subscription() generated.SubscriptionResolver { return &subscriptionResolver{r} }

type mutationResolver struct{ *Resolver }
type postResolver struct{ *Resolver }
type queryResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }
