package main

import (
	"log/slog"
	"net/http"

	"github.com/taskmint/backend/internal/auth"
	"github.com/taskmint/backend/internal/handlers"
	"github.com/taskmint/backend/internal/ledger"
	"github.com/taskmint/backend/internal/middleware"
	"github.com/taskmint/backend/internal/models"
	"github.com/taskmint/backend/internal/repository"
)

// RegisterRoutes wires the /api/v1 endpoints.
// Middleware chain: Authenticate -> (RequireRole where noted) -> handler.
func RegisterRoutes(
	mux *http.ServeMux,
	engine *ledger.Engine,
	authSvc auth.Service,
	authHandler *auth.Handler,
	userRepo *repository.UserRepo,
	taskRepo *repository.TaskRepo,
	submissionRepo *repository.SubmissionRepo,
	withdrawalRepo *repository.WithdrawalRepo,
	purchaseRepo *repository.PurchaseRepo,
	logger *slog.Logger,
) {
	th := &handlers.TaskHandler{Engine: engine, Tasks: taskRepo, Logger: logger}
	sh := &handlers.SubmissionHandler{Engine: engine, Submissions: submissionRepo, Logger: logger}
	wh := &handlers.WithdrawalHandler{Engine: engine, Withdrawals: withdrawalRepo, Logger: logger}
	ph := &handlers.PurchaseHandler{Engine: engine, Purchases: purchaseRepo, Logger: logger}
	ah := &handlers.AccountHandler{Users: userRepo, Logger: logger}
	adh := &handlers.AdminHandler{Users: userRepo, Logger: logger}

	authn := middleware.Authenticate(authSvc)
	buyer := middleware.RequireRole(models.RoleBuyer)
	worker := middleware.RequireRole(models.RoleWorker)
	admin := middleware.RequireRole(models.RoleAdmin)
	buyerOrAdmin := middleware.RequireRole(models.RoleBuyer, models.RoleAdmin)

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	mux.Handle("GET /api/v1/account/me", authn(http.HandlerFunc(ah.GetMe)))

	mux.Handle("POST /api/v1/tasks", authn(buyer(http.HandlerFunc(th.CreateTask))))
	mux.Handle("GET /api/v1/tasks", authn(http.HandlerFunc(th.ListTasks)))
	mux.Handle("GET /api/v1/tasks/{id}", authn(http.HandlerFunc(th.GetTask)))
	mux.Handle("DELETE /api/v1/tasks/{id}", authn(buyerOrAdmin(http.HandlerFunc(th.DeleteTask))))

	mux.Handle("POST /api/v1/tasks/{id}/submissions", authn(worker(http.HandlerFunc(sh.Submit))))
	mux.Handle("GET /api/v1/tasks/{id}/submissions", authn(buyerOrAdmin(http.HandlerFunc(sh.ListByTask))))
	mux.Handle("GET /api/v1/submissions", authn(worker(http.HandlerFunc(sh.ListMine))))
	mux.Handle("POST /api/v1/submissions/{id}/approve", authn(buyer(http.HandlerFunc(sh.Approve))))
	mux.Handle("POST /api/v1/submissions/{id}/reject", authn(buyer(http.HandlerFunc(sh.Reject))))

	mux.Handle("POST /api/v1/withdrawals", authn(worker(http.HandlerFunc(wh.Request))))
	mux.Handle("GET /api/v1/withdrawals", authn(worker(http.HandlerFunc(wh.ListMine))))
	mux.Handle("GET /api/v1/withdrawals/pending", authn(admin(http.HandlerFunc(wh.ListPending))))
	mux.Handle("POST /api/v1/withdrawals/{id}/approve", authn(admin(http.HandlerFunc(wh.Approve))))

	// The payment gateway calls purchase confirmation server-to-server with
	// an admin token.
	mux.Handle("POST /api/v1/purchases/confirm", authn(admin(http.HandlerFunc(ph.Confirm))))
	mux.Handle("GET /api/v1/purchases", authn(http.HandlerFunc(ph.ListMine)))

	mux.Handle("GET /api/v1/admin/users", authn(admin(http.HandlerFunc(adh.ListUsers))))
	mux.Handle("PUT /api/v1/admin/users/{email}/role", authn(admin(http.HandlerFunc(adh.SetUserRole))))
	mux.Handle("DELETE /api/v1/admin/users/{email}", authn(admin(http.HandlerFunc(adh.DeleteUser))))
}
