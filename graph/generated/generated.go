// Package generated исполняет GraphQL-схему блога поверх резолверов.
// Интерфейсы резолверов повторяют те, что строит gqlgen для schema.graphqls.
package generated

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/UkralStul/fexora/graph/model"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var sourceData string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sourceData})

// Config - корень резолверов.
type Config struct {
	Resolvers ResolverRoot
}

type ResolverRoot interface {
	Mutation() MutationResolver
	Post() PostResolver
	Query() QueryResolver
	Subscription() SubscriptionResolver
}

type MutationResolver interface {
	Register(ctx context.Context, email string, password string, name *string) (*identity.AccountHandle, error)
	Login(ctx context.Context, email string, password string) (*identity.AccountHandle, error)
	Logout(ctx context.Context) (bool, error)
	RequestPasswordReset(ctx context.Context, email string) (bool, error)
	ConfirmPasswordReset(ctx context.Context, token string, password string) (bool, error)
	CreatePost(ctx context.Context, input model.NewPost) (*domain.Post, error)
	UpdatePost(ctx context.Context, id string, input domain.PostPatch) (*domain.Post, error)
	DeletePost(ctx context.Context, id string) (bool, error)
}

type PostResolver interface {
	AuthorName(ctx context.Context, obj *domain.Post) (string, error)
}

type QueryResolver interface {
	Feed(ctx context.Context) ([]domain.FeedEntry, error)
	Post(ctx context.Context, id string) (*domain.Post, error)
	Me(ctx context.Context) (*model.Me, error)
	MyPosts(ctx context.Context) ([]*domain.Post, error)
}

type SubscriptionResolver interface {
	FeedUpdated(ctx context.Context) (<-chan []domain.FeedEntry, error)
	MyPosts(ctx context.Context) (<-chan []*domain.Post, error)
}

// NewExecutableSchema создает исполняемую схему для handler.New.
func NewExecutableSchema(cfg Config) graphql.ExecutableSchema {
	return &executableSchema{resolvers: cfg.Resolvers}
}

type executableSchema struct {
	resolvers ResolverRoot
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

// Complexity: списочные поля стоят дороже, остальные считаются по умолчанию.
func (e *executableSchema) Complexity(typeName, field string, childComplexity int, rawArgs map[string]interface{}) (int, bool) {
	switch typeName + "." + field {
	case "Query.feed", "Query.myPosts", "Subscription.feedUpdated", "Subscription.myPosts":
		return 10 * (childComplexity + 1), true
	}
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	rc := graphql.GetOperationContext(ctx)
	ec := &executionContext{OperationContext: rc, resolvers: e.resolvers}

	switch rc.Operation.Operation {
	case ast.Query, ast.Mutation:
		typeName, resolve := "Query", ec.queryField
		if rc.Operation.Operation == ast.Mutation {
			typeName, resolve = "Mutation", ec.mutationField
		}
		first := true
		return func(ctx context.Context) *graphql.Response {
			if !first {
				return nil
			}
			first = false
			data := ec.root(ctx, typeName, rc.Operation.SelectionSet, resolve)
			return &graphql.Response{Data: marshal(data)}
		}
	case ast.Subscription:
		next := ec.subscription(ctx, rc.Operation.SelectionSet)
		return func(ctx context.Context) *graphql.Response {
			if next == nil {
				return nil
			}
			data := next(ctx)
			if data == nil {
				return nil
			}
			return &graphql.Response{Data: marshal(data)}
		}
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

type executionContext struct {
	*graphql.OperationContext
	resolvers ResolverRoot
}

type fieldResolver func(ctx context.Context, path ast.Path, field graphql.CollectedField) (graphql.Marshaler, error)

func marshal(m graphql.Marshaler) json.RawMessage {
	var buf bytes.Buffer
	m.MarshalGQL(&buf)
	return buf.Bytes()
}

func (ec *executionContext) addError(ctx context.Context, path ast.Path, err error) {
	graphql.AddError(ctx, gqlerror.WrapPath(path, err))
}

func fieldPath(parent ast.Path, field graphql.CollectedField) ast.Path {
	path := make(ast.Path, 0, len(parent)+1)
	path = append(path, parent...)
	return append(path, ast.PathName(field.Alias))
}

func nonNull(field graphql.CollectedField) bool {
	return field.Definition != nil && field.Definition.Type.NonNull
}

// root исполняет поля Query или Mutation. Ошибка обязательного поля обнуляет data целиком.
func (ec *executionContext) root(ctx context.Context, typeName string, sel ast.SelectionSet, resolve fieldResolver) graphql.Marshaler {
	return ec.object(ctx, nil, typeName, sel, resolve)
}

// object исполняет выборку над объектом. Если обязательное поле не удалось получить,
// объект целиком становится null.
func (ec *executionContext) object(ctx context.Context, path ast.Path, typeName string, sel ast.SelectionSet, resolve fieldResolver) graphql.Marshaler {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{typeName})
	out := graphql.NewFieldSet(fields)
	for i, field := range fields {
		if field.Name == "__typename" {
			out.Values[i] = graphql.MarshalString(typeName)
			continue
		}
		p := fieldPath(path, field)
		v, err := resolve(ctx, p, field)
		if err != nil {
			ec.addError(ctx, p, err)
			if nonNull(field) {
				return graphql.Null
			}
			v = graphql.Null
		}
		out.Values[i] = v
	}
	return out
}

func (ec *executionContext) queryField(ctx context.Context, path ast.Path, field graphql.CollectedField) (graphql.Marshaler, error) {
	q := ec.resolvers.Query()
	args := field.ArgumentMap(ec.Variables)

	switch field.Name {
	case "feed":
		entries, err := q.Feed(ctx)
		if err != nil {
			return nil, err
		}
		return ec.marshalFeed(ctx, path, field.Selections, entries), nil
	case "post":
		post, err := q.Post(ctx, stringArg(args, "id"))
		if err != nil {
			return nil, err
		}
		if post == nil {
			return graphql.Null, nil
		}
		return ec.marshalPost(ctx, path, field.Selections, post), nil
	case "me":
		me, err := q.Me(ctx)
		if err != nil {
			return nil, err
		}
		return ec.marshalMe(ctx, path, field.Selections, me), nil
	case "myPosts":
		list, err := q.MyPosts(ctx)
		if err != nil {
			return nil, err
		}
		return ec.marshalPosts(ctx, path, field.Selections, list), nil
	case "__schema", "__type":
		return nil, domain.E(domain.KindInvalidInput, "graph.query", "introspection disabled")
	}
	return nil, unknownField("Query", field)
}

func (ec *executionContext) mutationField(ctx context.Context, path ast.Path, field graphql.CollectedField) (graphql.Marshaler, error) {
	m := ec.resolvers.Mutation()
	args := field.ArgumentMap(ec.Variables)

	switch field.Name {
	case "register":
		handle, err := m.Register(ctx, stringArg(args, "email"), stringArg(args, "password"), optionalStringArg(args, "name"))
		if err != nil {
			return nil, err
		}
		return ec.marshalAuthPayload(ctx, path, field.Selections, handle), nil
	case "login":
		handle, err := m.Login(ctx, stringArg(args, "email"), stringArg(args, "password"))
		if err != nil {
			return nil, err
		}
		return ec.marshalAuthPayload(ctx, path, field.Selections, handle), nil
	case "logout":
		return boolResult(m.Logout(ctx))
	case "requestPasswordReset":
		return boolResult(m.RequestPasswordReset(ctx, stringArg(args, "email")))
	case "confirmPasswordReset":
		return boolResult(m.ConfirmPasswordReset(ctx, stringArg(args, "token"), stringArg(args, "password")))
	case "createPost":
		in := objectArg(args, "input")
		post, err := m.CreatePost(ctx, model.NewPost{
			Title:   stringArg(in, "title"),
			Content: stringArg(in, "content"),
			Image:   optionalStringArg(in, "image"),
		})
		if err != nil {
			return nil, err
		}
		return ec.marshalPost(ctx, path, field.Selections, post), nil
	case "updatePost":
		in := objectArg(args, "input")
		post, err := m.UpdatePost(ctx, stringArg(args, "id"), domain.PostPatch{
			Title:   optionalStringArg(in, "title"),
			Content: optionalStringArg(in, "content"),
			Image:   optionalStringArg(in, "image"),
		})
		if err != nil {
			return nil, err
		}
		return ec.marshalPost(ctx, path, field.Selections, post), nil
	case "deletePost":
		return boolResult(m.DeletePost(ctx, stringArg(args, "id")))
	}
	return nil, unknownField("Mutation", field)
}

// subscription подписывается на единственное корневое поле и возвращает функцию,
// которая ждет очередной снимок. nil означает конец потока.
func (ec *executionContext) subscription(ctx context.Context, sel ast.SelectionSet) func(ctx context.Context) graphql.Marshaler {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{"Subscription"})
	if len(fields) != 1 {
		graphql.AddError(ctx, gqlerror.Errorf("must subscribe to exactly one stream"))
		return nil
	}
	field := fields[0]
	path := fieldPath(nil, field)
	s := ec.resolvers.Subscription()

	switch field.Name {
	case "feedUpdated":
		ch, err := s.FeedUpdated(ctx)
		if err != nil {
			ec.addError(ctx, path, err)
			return nil
		}
		return func(ctx context.Context) graphql.Marshaler {
			select {
			case entries, ok := <-ch:
				if !ok {
					return nil
				}
				return single(field, ec.marshalFeed(ctx, path, field.Selections, entries))
			case <-ctx.Done():
				return nil
			}
		}
	case "myPosts":
		ch, err := s.MyPosts(ctx)
		if err != nil {
			ec.addError(ctx, path, err)
			return nil
		}
		return func(ctx context.Context) graphql.Marshaler {
			select {
			case list, ok := <-ch:
				if !ok {
					return nil
				}
				return single(field, ec.marshalPosts(ctx, path, field.Selections, list))
			case <-ctx.Done():
				return nil
			}
		}
	}
	ec.addError(ctx, path, unknownField("Subscription", field))
	return nil
}

func single(field graphql.CollectedField, v graphql.Marshaler) graphql.Marshaler {
	out := graphql.NewFieldSet([]graphql.CollectedField{field})
	out.Values[0] = v
	return out
}

func (ec *executionContext) marshalFeed(ctx context.Context, path ast.Path, sel ast.SelectionSet, entries []domain.FeedEntry) graphql.Marshaler {
	out := make(graphql.Array, len(entries))
	for i := range entries {
		entry := entries[i]
		p := append(append(ast.Path{}, path...), ast.PathIndex(i))
		out[i] = ec.object(ctx, p, "FeedEntry", sel, func(ctx context.Context, path ast.Path, f graphql.CollectedField) (graphql.Marshaler, error) {
			switch f.Name {
			case "post":
				return ec.marshalPost(ctx, path, f.Selections, entry.Post), nil
			case "authorName":
				return graphql.MarshalString(entry.AuthorName), nil
			case "excerpt":
				return graphql.MarshalString(entry.Excerpt), nil
			case "readMinutes":
				return graphql.MarshalInt(entry.ReadMinutes), nil
			}
			return nil, unknownField("FeedEntry", f)
		})
	}
	return out
}

func (ec *executionContext) marshalPosts(ctx context.Context, path ast.Path, sel ast.SelectionSet, list []*domain.Post) graphql.Marshaler {
	out := make(graphql.Array, len(list))
	for i, post := range list {
		p := append(append(ast.Path{}, path...), ast.PathIndex(i))
		out[i] = ec.marshalPost(ctx, p, sel, post)
	}
	return out
}

func (ec *executionContext) marshalPost(ctx context.Context, path ast.Path, sel ast.SelectionSet, post *domain.Post) graphql.Marshaler {
	if post == nil {
		return graphql.Null
	}
	return ec.object(ctx, path, "Post", sel, func(ctx context.Context, path ast.Path, f graphql.CollectedField) (graphql.Marshaler, error) {
		switch f.Name {
		case "id":
			return graphql.MarshalID(post.ID), nil
		case "ownerId":
			return graphql.MarshalID(post.OwnerID), nil
		case "title":
			return graphql.MarshalString(post.Title), nil
		case "content":
			return graphql.MarshalString(post.Content), nil
		case "image":
			return optionalString(post.Image), nil
		case "authorName":
			name, err := ec.resolvers.Post().AuthorName(ctx, post)
			if err != nil {
				return nil, err
			}
			return graphql.MarshalString(name), nil
		case "createdAt":
			return graphql.MarshalTime(post.CreatedAt), nil
		case "updatedAt":
			return graphql.MarshalTime(post.UpdatedAt), nil
		}
		return nil, unknownField("Post", f)
	})
}

func (ec *executionContext) marshalAccount(ctx context.Context, path ast.Path, sel ast.SelectionSet, a *domain.Account) graphql.Marshaler {
	if a == nil {
		return graphql.Null
	}
	return ec.object(ctx, path, "Account", sel, func(ctx context.Context, path ast.Path, f graphql.CollectedField) (graphql.Marshaler, error) {
		switch f.Name {
		case "id":
			return graphql.MarshalID(a.ID), nil
		case "email":
			return graphql.MarshalString(a.Email), nil
		case "displayName":
			return optionalString(a.DisplayName), nil
		case "photoURL":
			return optionalString(a.PhotoURL), nil
		case "provider":
			return graphql.MarshalString(a.Provider), nil
		case "createdAt":
			return graphql.MarshalTime(a.CreatedAt), nil
		}
		return nil, unknownField("Account", f)
	})
}

func (ec *executionContext) marshalAuthPayload(ctx context.Context, path ast.Path, sel ast.SelectionSet, h *identity.AccountHandle) graphql.Marshaler {
	if h == nil {
		return graphql.Null
	}
	return ec.object(ctx, path, "AuthPayload", sel, func(ctx context.Context, path ast.Path, f graphql.CollectedField) (graphql.Marshaler, error) {
		switch f.Name {
		case "account":
			return ec.marshalAccount(ctx, path, f.Selections, &h.Account), nil
		case "token":
			return graphql.MarshalString(h.Token), nil
		case "expiresAt":
			return graphql.MarshalTime(h.ExpiresAt), nil
		}
		return nil, unknownField("AuthPayload", f)
	})
}

func (ec *executionContext) marshalMe(ctx context.Context, path ast.Path, sel ast.SelectionSet, me *model.Me) graphql.Marshaler {
	if me == nil {
		return graphql.Null
	}
	return ec.object(ctx, path, "Me", sel, func(ctx context.Context, path ast.Path, f graphql.CollectedField) (graphql.Marshaler, error) {
		switch f.Name {
		case "account":
			return ec.marshalAccount(ctx, path, f.Selections, me.Account), nil
		case "profile":
			return ec.marshalProfile(ctx, path, f.Selections, me.Profile), nil
		}
		return nil, unknownField("Me", f)
	})
}

func (ec *executionContext) marshalProfile(ctx context.Context, path ast.Path, sel ast.SelectionSet, p *domain.UserProfile) graphql.Marshaler {
	if p == nil {
		return graphql.Null
	}
	return ec.object(ctx, path, "Profile", sel, func(ctx context.Context, path ast.Path, f graphql.CollectedField) (graphql.Marshaler, error) {
		switch f.Name {
		case "uid":
			return graphql.MarshalID(p.UID), nil
		case "email":
			return graphql.MarshalString(p.Email), nil
		case "name":
			return optionalString(p.Name), nil
		case "displayName":
			return optionalString(p.DisplayName), nil
		case "photoURL":
			return optionalString(p.PhotoURL), nil
		case "role":
			return graphql.MarshalString(p.Role), nil
		case "status":
			return graphql.MarshalString(p.Status), nil
		case "createdAt":
			return graphql.MarshalTime(p.CreatedAt), nil
		case "lastLoggedInAt":
			return graphql.MarshalTime(p.LastLoggedInAt), nil
		}
		return nil, unknownField("Profile", f)
	})
}

func optionalString(s string) graphql.Marshaler {
	if s == "" {
		return graphql.Null
	}
	return graphql.MarshalString(s)
}

func boolResult(ok bool, err error) (graphql.Marshaler, error) {
	if err != nil {
		return nil, err
	}
	return graphql.MarshalBoolean(ok), nil
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func optionalStringArg(args map[string]interface{}, name string) *string {
	s, ok := args[name].(string)
	if !ok {
		return nil
	}
	return &s
}

func objectArg(args map[string]interface{}, name string) map[string]interface{} {
	m, _ := args[name].(map[string]interface{})
	return m
}

func unknownField(typeName string, field graphql.CollectedField) error {
	return fmt.Errorf("unknown field %s.%s", typeName, field.Name)
}
