package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/config"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// Seeds a default tenant, a small agent catalog, and a demo scan-then-notify
// workflow so a fresh install has something to trigger.
func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	// 1. Ensure the default tenant exists.
	domain := "localhost"
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("Creating default tenant", "domain", domain)
		tenant = &models.Tenant{
			Name:   "Local Dev Tenant",
			Domain: domain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			log.Fatalf("Failed to create tenant: %v", err)
		}
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	// 2. Agent catalog. Skips agents that already exist.
	agents := []*models.Agent{
		{
			ID:        "agent-scan",
			TenantID:  tenant.ID,
			Name:      "repo-scanner",
			Type:      "container",
			RiskLevel: models.AgentRiskAuto,
			OutputSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"summary"},
				"properties": map[string]interface{}{
					"summary":    map[string]interface{}{"type": "string"},
					"finding_ct": map[string]interface{}{"type": "integer"},
				},
			},
		},
		{
			ID:        "agent-notify",
			TenantID:  tenant.ID,
			Name:      "slack-notifier",
			Type:      "container",
			RiskLevel: models.AgentRiskAuto,
		},
		{
			ID:        "agent-deploy",
			TenantID:  tenant.ID,
			Name:      "prod-deployer",
			Type:      "container",
			RiskLevel: models.AgentRiskApprovalRequired,
		},
	}
	for _, a := range agents {
		if _, err := store.GetAgent(ctx, a.ID); err == nil {
			logger.Info("Agent already present", "id", a.ID)
			continue
		}
		if err := store.CreateAgent(ctx, a); err != nil {
			log.Fatalf("Failed to create agent %s: %v", a.ID, err)
		}
		logger.Info("Created agent", "id", a.ID, "name", a.Name, "risk_level", a.RiskLevel)
	}

	// 3. Demo workflow: scan the repo, then notify with the scan summary.
	existing, err := store.ListWorkflows(ctx, tenant.ID)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	for _, w := range existing {
		if w.Name == "scan-and-notify" {
			logger.Info("Demo workflow already present", "id", w.ID)
			return
		}
	}

	wf := &models.Workflow{
		ID:        "wf-scan-notify",
		TenantID:  tenant.ID,
		ProjectID: "demo",
		Name:      "scan-and-notify",
		Trigger:   models.TriggerManual,
		Status:    models.WorkflowActive,
		Nodes: []models.WorkflowNode{
			{
				ID:         "scan",
				WorkflowID: "wf-scan-notify",
				AgentID:    "agent-scan",
				InputTemplate: map[string]interface{}{
					"target": "{{ context.repo }}",
				},
			},
			{
				ID:         "notify",
				WorkflowID: "wf-scan-notify",
				AgentID:    "agent-notify",
				DependsOn:  []string{"scan"},
				InputTemplate: map[string]interface{}{
					"channel": "#security",
					"message": "scan finished: {{ nodes.scan.output.summary }}",
				},
			},
		},
	}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		log.Fatalf("Failed to create demo workflow: %v", err)
	}
	logger.Info("Created demo workflow", "id", wf.ID, "nodes", len(wf.Nodes))
}
