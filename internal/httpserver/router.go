package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lv-margincore/internal/auth"
	"lv-margincore/internal/httputil"
)

type RouterDeps struct {
	AuthHandler  *auth.Handler
	AuthService  *auth.Service
	AdminService *auth.AdminService
	Handler      *Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})
		r.Get("/quotes", d.Handler.Quotes)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Post("/trades", withUser(d.Handler.OpenTrade))
			r.Post("/trades/{id}/close", withUserID(d.Handler.CloseTrade))
			r.Post("/trades/{id}/modify", withUserID(d.Handler.ModifyTrade))
			r.Delete("/trades/{id}", withUserID(d.Handler.CancelTrade))
			r.Get("/accounts/{id}/trades", withUserID(d.Handler.Trades))
			r.Get("/accounts/{id}/metrics", withUserID(d.Handler.Metrics))
			r.Post("/accounts/{id}/reset", withUserID(d.Handler.ResetDemo))
			r.Post("/copy/follow", withUser(d.Handler.Follow))
			r.Post("/copy/followers/{id}/status", withUserID(d.Handler.SetFollowerStatus))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", d.AuthHandler.AdminLogin)
			r.Group(func(r chi.Router) {
				r.Use(AdminAuth(d.AdminService))
				r.Get("/charges", d.Handler.ListChargeRules)
				r.Post("/charges", d.Handler.SaveChargeRule)
				r.Get("/settings", d.Handler.GetTradeSettings)
				r.Post("/settings", d.Handler.SaveTradeSettings)
				r.Post("/accounts/{id}/status", func(w http.ResponseWriter, r *http.Request) {
					d.Handler.SetAccountStatus(w, r, chi.URLParam(r, "id"))
				})
				r.Post("/accounts/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
					d.Handler.AdminResetDemo(w, r, chi.URLParam(r, "id"))
				})
				r.Post("/trades/{id}/close", func(w http.ResponseWriter, r *http.Request) {
					d.Handler.AdminCloseTrade(w, r, chi.URLParam(r, "id"))
				})
				r.Post("/masters", d.Handler.SaveMasterProfile)
			})
		})
	})
	return r
}

func withUser(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func withUserID(fn func(http.ResponseWriter, *http.Request, string, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID, chi.URLParam(r, "id"))
	}
}
