package api

import (
	"net/http"

	"github.com/UkralStul/fexora/internal/dataloader"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/session"
	"github.com/go-chi/chi/v5"
)

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Image   string `json:"image"`
}

type postResponse struct {
	Post       *domain.Post `json:"post"`
	AuthorName string       `json:"authorName"`
}

func currentUID(r *http.Request) string {
	if a := session.FromContext(r.Context()).Current(); a != nil {
		return a.ID
	}
	return ""
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	entries, err := s.feed.AssembleFeed(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMyPosts(w http.ResponseWriter, r *http.Request) {
	list, err := s.posts.ListByOwner(r.Context(), currentUID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetPost возвращает пост с именем автора. Профиль автора грузится
// через лоадер запроса; если загрузить его не удалось, имя берется из поста.
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.posts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if post == nil {
		s.writeError(w, r, domain.E(domain.KindNotFound, "api.getPost", "post not found"))
		return
	}

	var profile *domain.UserProfile
	if loaders := dataloader.For(r.Context()); loaders != nil {
		profiles, failed := dataloader.LoadProfiles(r.Context(), loaders.ProfileByID, []string{post.OwnerID})
		if err := failed[post.OwnerID]; err != nil {
			s.logger.Warn("author lookup failed, using post snapshot", "uid", post.OwnerID, "error", err)
		}
		profile = profiles[post.OwnerID]
	}
	writeJSON(w, http.StatusOK, postResponse{Post: post, AuthorName: domain.ResolveAuthorName(profile, post)})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.posts.Create(r.Context(), currentUID(r), domain.PostFields{
		Title:   req.Title,
		Content: req.Content,
		Image:   req.Image,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var patch domain.PostPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.posts.Update(r.Context(), currentUID(r), chi.URLParam(r, "id"), patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.Delete(r.Context(), currentUID(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
