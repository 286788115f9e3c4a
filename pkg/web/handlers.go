// Package web provides the HTTP boundary: order creation, inbound message
// ingestion, timer sweeps, run introspection and workflow management.
package web

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/codagent/flowkit/pkg/dispatcher"
	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/codagent/flowkit/pkg/services"
)

// TenantHeader carries the tenant id on every tenant-scoped request.
const TenantHeader = "X-Tenant-ID"

// APIHandlers binds the services to HTTP routes.
type APIHandlers struct {
	orders     *services.Orders
	messaging  *services.Messaging
	workflows  *services.Workflows
	tenants    *services.Tenants
	dispatcher *dispatcher.Dispatcher
	storage    persistence.Persistence
}

// NewAPIHandlers creates the handler set.
func NewAPIHandlers(
	orders *services.Orders,
	messaging *services.Messaging,
	workflows *services.Workflows,
	tenants *services.Tenants,
	dispatcher *dispatcher.Dispatcher,
	storage persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		orders:     orders,
		messaging:  messaging,
		workflows:  workflows,
		tenants:    tenants,
		dispatcher: dispatcher,
		storage:    storage,
	}
}

// RequireTenant rejects tenant-scoped requests without an X-Tenant-ID
// header. Tenancy is always explicit, never defaulted.
func RequireTenant(c fiber.Ctx) error {
	if c.Get(TenantHeader) == "" {
		return badRequest(c, TenantHeader+" header is required")
	}

	return c.Next()
}

func tenantID(c fiber.Ctx) string {
	return c.Get(TenantHeader)
}

func (h *APIHandlers) CreateOrder(c fiber.Ctx) error {
	var req services.CreateOrderRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	result, err := h.orders.CreateOrder(c.Context(), tenantID(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateOrderResponse{
		OK:    true,
		Order: result.Order,
		Run:   result.Run,
	})
}

func (h *APIHandlers) GetOrder(c fiber.Ctx) error {
	order, err := h.orders.GetOrder(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(order)
}

func (h *APIHandlers) ListOrderRuns(c fiber.Ctx) error {
	runs, err := h.orders.ListRuns(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.orders.GetRun(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) AdvanceRun(c fiber.Ctx) error {
	var req AdvanceRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if req.ActionID == "" {
		return badRequest(c, "action_id is required")
	}

	run, err := h.orders.AdvanceRun(c.Context(), tenantID(c), c.Params("id"), req.ActionID, req.Context)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "run": run})
}

func (h *APIHandlers) IngestInbound(c fiber.Ctx) error {
	var req services.InboundMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	result, err := h.messaging.IngestInbound(c.Context(), tenantID(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "result": result})
}

func (h *APIHandlers) ConversationHistory(c fiber.Ctx) error {
	messages, err := h.messaging.History(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *APIHandlers) SweepTimers(c fiber.Ctx) error {
	result, err := h.dispatcher.Sweep(c.Context(), time.Now().UTC())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(SweepResponse{OK: true, Result: result})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req services.CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	definition, err := h.workflows.CreateDefinition(c.Context(), tenantID(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	definitions, err := h.workflows.ListDefinitions(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": definitions})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	definition, err := h.workflows.GetDefinition(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	versions, err := h.workflows.ListVersions(c.Context(), tenantID(c), definition.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowDetailResponse{Workflow: definition, Versions: versions})
}

func (h *APIHandlers) AddWorkflowVersion(c fiber.Ctx) error {
	var req AddVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	version, err := h.workflows.AddVersion(c.Context(), tenantID(c), c.Params("id"), req.Definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) PublishWorkflowVersion(c fiber.Ctx) error {
	version, err := h.workflows.Publish(c.Context(), tenantID(c), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) SetTenantCredential(c fiber.Ctx) error {
	var req services.SetCredentialRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	result, err := h.tenants.SetCredential(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.storage.HealthCheck(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
			Status: "unhealthy",
			Checks: map[string]string{"persistence": err.Error()},
		})
	}

	return c.JSON(HealthResponse{
		Status: "healthy",
		Checks: map[string]string{"persistence": "ok"},
	})
}
