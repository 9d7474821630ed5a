// Package router wires the HTTP surface: public auth and webhook routes,
// and the authenticated marketplace API under /api/v1.
package router

import (
	"net/http"

	"github.com/hmapp/backend/internal/auth"
	"github.com/hmapp/backend/internal/batch"
	"github.com/hmapp/backend/internal/jobs"
	"github.com/hmapp/backend/internal/middleware"
	"github.com/hmapp/backend/internal/models"
	"github.com/hmapp/backend/internal/offers"
	"github.com/hmapp/backend/internal/payments"
	"github.com/hmapp/backend/internal/registry"
	"github.com/hmapp/backend/internal/wallet"
)

// Handlers collects the per-package HTTP handlers the router mounts.
type Handlers struct {
	Auth     *auth.Handler
	Jobs     *jobs.Handler
	Offers   *offers.Handler
	Wallet   *wallet.Handler
	Batch    *batch.Handler
	Registry *registry.Handler
	Webhook  *payments.WebhookHandler
}

// New returns the API handler. The webhook route authenticates by HMAC
// signature, not bearer token, so it stays outside the auth middleware.
func New(h Handlers, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)
	mux.Handle("POST "+base+"/webhooks/payment", h.Webhook)

	authed := middleware.Auth(validator)
	customer := middleware.RequireRole(models.RoleCustomer)
	technician := middleware.RequireRole(models.RoleTechnician)
	owner := middleware.RequireRole(models.RoleCompanyOwner)

	mount := func(pattern string, mw func(http.Handler) http.Handler, fn http.HandlerFunc) {
		handler := http.Handler(fn)
		if mw != nil {
			handler = mw(handler)
		}
		mux.Handle(pattern, authed(handler))
	}

	// Jobs.
	mount("POST "+base+"/jobs", customer, h.Jobs.Create)
	mount("GET "+base+"/jobs", customer, h.Jobs.List)
	mount("GET "+base+"/jobs/{id}", nil, h.Jobs.Get)
	mount("POST "+base+"/jobs/{id}/publish", customer, h.Jobs.Publish)
	mount("POST "+base+"/jobs/{id}/start", technician, h.Jobs.Start)
	mount("POST "+base+"/jobs/{id}/complete", nil, h.Jobs.Complete)
	mount("POST "+base+"/jobs/{id}/cancel", nil, h.Jobs.Cancel)

	// Offers.
	mount("POST "+base+"/jobs/{id}/offers", technician, h.Offers.Submit)
	mount("GET "+base+"/jobs/{id}/offers", nil, h.Offers.ListForJob)
	mount("POST "+base+"/offers/{id}/accept", customer, h.Offers.Accept)
	mount("POST "+base+"/offers/{id}/reject", customer, h.Offers.Reject)
	mount("POST "+base+"/offers/{id}/withdraw", technician, h.Offers.Withdraw)

	// Wallet.
	mount("GET "+base+"/wallet", nil, h.Wallet.Get)

	// Batches.
	mount("GET "+base+"/batches", owner, h.Batch.List)
	mount("POST "+base+"/batches/{id}/withdraw", owner, h.Batch.Withdraw)

	// Technician presence and discovery.
	mount("POST "+base+"/technicians/location", technician, h.Registry.UpdateLocation)
	mount("POST "+base+"/technicians/presence", technician, h.Registry.SetPresence)
	mount("GET "+base+"/technicians/nearby", nil, h.Registry.FindNearby)

	// Company dashboard.
	mount("GET "+base+"/company/stats", owner, h.Registry.Stats)

	return mux
}
