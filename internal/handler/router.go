// Package handler wires the HTTP surface: routing, auth middleware and the
// JSON handlers in front of the application services.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/infra/observability"
	"github.com/tabhq/tab-billing/internal/service"
)

var tracer = otel.Tracer("handler")

// Services bundles the application services the router depends on.
type Services struct {
	Auth    *service.AuthService
	Tabs    *service.TabService
	Billing *service.BillingService
	Rules   *service.RulesService
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(svcs Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", registerHandler(svcs.Auth, metrics, logger))
			r.Post("/login", loginHandler(svcs.Auth, metrics, logger))

			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(svcs.Auth))
				r.Post("/api-keys", createAPIKeyHandler(svcs.Auth, logger))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(svcs.Auth))

			r.Get("/metrics/engine", engineMetricsHandler(metrics))

			r.Route("/tabs", func(r chi.Router) {
				r.Post("/", createTabHandler(svcs.Tabs, metrics, logger))

				r.Route("/{tabID}", func(r chi.Router) {
					r.Get("/", getTabHandler(svcs.Tabs, logger))
					r.Get("/billing-summary", billingSummaryHandler(svcs.Billing, metrics, logger))
					r.Get("/overrides", listOverridesHandler(svcs.Billing, logger))

					r.Route("/items", func(r chi.Router) {
						r.Post("/", addLineItemHandler(svcs.Tabs, metrics, logger))
						r.Get("/", listLineItemsHandler(svcs.Tabs, logger))
						r.Post("/assign-bulk", bulkAssignHandler(svcs.Billing, metrics, logger))
						r.Post("/{itemID}/assign", assignItemHandler(svcs.Billing, metrics, logger))
						r.Get("/{itemID}/evaluate", evaluateItemHandler(svcs.Rules, logger))
					})

					r.Route("/billing-groups", func(r chi.Router) {
						r.Post("/enable", enableGroupsHandler(svcs.Billing, metrics, logger))
						r.Get("/", listGroupsHandler(svcs.Billing, logger))
						r.Post("/{groupID}/deposit", applyDepositHandler(svcs.Billing, logger))
						r.Post("/{groupID}/recompute", recomputeBalanceHandler(svcs.Billing, logger))
						r.Post("/{groupID}/close", closeGroupHandler(svcs.Billing, logger))
					})

					r.Route("/rules", func(r chi.Router) {
						r.Post("/", createRuleHandler(svcs.Rules, logger))
						r.Get("/", listRulesHandler(svcs.Rules, logger))
						r.Put("/{ruleID}", updateRuleHandler(svcs.Rules, logger))
						r.Delete("/{ruleID}", deleteRuleHandler(svcs.Rules, logger))
					})
				})
			})
		})
	})

	return r
}

// ============================================================
// Auth handlers
// ============================================================

func registerHandler(svc *service.AuthService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/register")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("register", time.Since(start)) }()

		var req domain.RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.Register(ctx, &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func loginHandler(svc *service.AuthService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("login", time.Since(start)) }()

		var req domain.LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAPIKeyHandler(svc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/api-keys")
		defer span.End()

		var req struct {
			Label string `json:"label"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.CreateAPIKey(ctx, MerchantIDFromContext(ctx), req.Label)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// ============================================================
// Tab handlers
// ============================================================

func createTabHandler(svc *service.TabService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("create_tab", time.Since(start)) }()

		var req service.CreateTabRequest
		if !decodeBody(w, r, &req) {
			return
		}

		tab, err := svc.CreateTab(ctx, MerchantIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, tab)
	}
}

func getTabHandler(svc *service.TabService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}")
		defer span.End()
		tabID := chi.URLParam(r, "tabID")
		span.SetAttributes(attribute.String("tab.id", tabID))

		tab, err := svc.GetTab(ctx, MerchantIDFromContext(ctx), tabID)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, tab)
	}
}

func addLineItemHandler(svc *service.TabService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/items")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("add_line_item", time.Since(start)) }()

		var req service.CreateLineItemRequest
		if !decodeBody(w, r, &req) {
			return
		}

		item, err := svc.AddLineItem(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func listLineItemsHandler(svc *service.TabService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}/items")
		defer span.End()

		items, err := svc.ListLineItems(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"))
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		if items == nil {
			items = []domain.LineItem{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

// ============================================================
// Billing group handlers
// ============================================================

func enableGroupsHandler(svc *service.BillingService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/billing-groups/enable")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("enable_billing_groups", time.Since(start)) }()

		var req service.EnableGroupsRequest
		if !decodeBody(w, r, &req) {
			return
		}

		groups, err := svc.EnableBillingGroups(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"groups": groups})
	}
}

func listGroupsHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}/billing-groups")
		defer span.End()

		groups, err := svc.ListGroups(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"))
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		if groups == nil {
			groups = []domain.BillingGroup{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	}
}

func applyDepositHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/billing-groups/{groupID}/deposit")
		defer span.End()

		var req service.DepositRequest
		if !decodeBody(w, r, &req) {
			return
		}

		group, err := svc.ApplyDeposit(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "groupID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func recomputeBalanceHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/billing-groups/{groupID}/recompute")
		defer span.End()

		group, err := svc.RecomputeBalance(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "groupID"))
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func closeGroupHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/billing-groups/{groupID}/close")
		defer span.End()

		if err := svc.CloseGroup(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "groupID")); err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

func billingSummaryHandler(svc *service.BillingService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}/billing-summary")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("billing_summary", time.Since(start)) }()

		summary, err := svc.TabBillingSummary(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"))
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func listOverridesHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}/overrides")
		defer span.End()

		page, pageSize := parsePagination(r)
		overrides, err := svc.ListOverrides(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), page, pageSize)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		if overrides == nil {
			overrides = []domain.BillingGroupOverride{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"overrides": overrides,
			"page":      page,
			"page_size": pageSize,
		})
	}
}

// ============================================================
// Assignment handlers
// ============================================================

func assignItemHandler(svc *service.BillingService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/items/{itemID}/assign")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("assign_item", time.Since(start)) }()

		var req service.AssignRequest
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := svc.AssignLineItem(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "itemID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func bulkAssignHandler(svc *service.BillingService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/items/assign-bulk")
		defer span.End()
		start := time.Now()
		defer func() { metrics.RecordRequestDuration("bulk_assign", time.Since(start)) }()

		var req service.BulkAssignRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.BulkAssign(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Rule handlers
// ============================================================

func createRuleHandler(svc *service.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tabs/{tabID}/rules")
		defer span.End()

		var req service.CreateRuleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		rule, err := svc.CreateRule(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

func listRulesHandler(svc *service.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}/rules")
		defer span.End()

		rules, err := svc.ListRules(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"))
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		if rules == nil {
			rules = []domain.BillingGroupRule{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
	}
}

func updateRuleHandler(svc *service.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/tabs/{tabID}/rules/{ruleID}")
		defer span.End()

		var req service.UpdateRuleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		rule, err := svc.UpdateRule(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "ruleID"), &req)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func deleteRuleHandler(svc *service.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/tabs/{tabID}/rules/{ruleID}")
		defer span.End()

		if err := svc.DeleteRule(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "ruleID")); err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func evaluateItemHandler(svc *service.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tabs/{tabID}/items/{itemID}/evaluate")
		defer span.End()

		resp, err := svc.EvaluateItem(ctx, MerchantIDFromContext(ctx), chi.URLParam(r, "tabID"), chi.URLParam(r, "itemID"))
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Engine metrics
// ============================================================

func engineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/metrics/engine")
		defer span.End()

		writeJSON(w, http.StatusOK, metrics.GetEngineSnapshot())
	}
}
