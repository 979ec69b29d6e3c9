// internal/transport/http/handlers.go
package http

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"sync-service/internal/backup"
	"sync-service/internal/middleware"
	"sync-service/internal/service"
	"sync-service/internal/store"
	"sync-service/internal/sync"
)

type Handler struct {
	syncService *service.SyncService
	startTime   time.Time
}

func NewHandler(syncService *service.SyncService) *Handler {
	return &Handler{syncService: syncService, startTime: time.Now()}
}

// Register mounts the routes. Reads are open; anything that writes state
// sits behind auth.
func (h *Handler) Register(app fiber.Router, auth fiber.Handler) {
	app.Get("/health", h.Health)

	app.Get("/sync-config", h.GetSyncConfig)
	app.Get("/sync-config/all", h.ListSyncConfigs)
	app.Delete("/sync-config", auth, h.DeleteSyncConfig)
	app.Post("/sync", auth, h.PushSync)

	app.Get("/backup", h.ListBackups)
	app.Post("/backup", auth, h.PerformBackup)
	app.Post("/backup/:name/restore", auth, h.RestoreBackup)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":       "ok",
		"service":      "sync-service",
		"uptime":       time.Since(h.startTime).Round(time.Second).String(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"backend":      h.syncService.Backend(),
		"backup_store": h.syncService.BackupStore(),
	})
}

func (h *Handler) GetSyncConfig(c *fiber.Ctx) error {
	tableName := strings.TrimSpace(c.Query("tableName"))
	if tableName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tableName is required"})
	}

	rec, err := h.syncService.GetSyncConfig(c.UserContext(), tableName)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sync config not found for " + tableName})
	}
	if err != nil {
		log.Printf("❌ [HTTP] get sync config %s: %v", tableName, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read sync config"})
	}
	return c.JSON(rec)
}

func (h *Handler) ListSyncConfigs(c *fiber.Ctx) error {
	records, err := h.syncService.ListSyncConfigs(c.UserContext())
	if err != nil {
		log.Printf("❌ [HTTP] list sync configs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list sync configs"})
	}
	return c.JSON(records)
}

func (h *Handler) DeleteSyncConfig(c *fiber.Ctx) error {
	tableName := strings.TrimSpace(c.Query("tableName"))
	if tableName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tableName is required"})
	}

	err := h.syncService.DeleteSyncConfig(c.UserContext(), tableName)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sync config not found for " + tableName})
	}
	if err != nil {
		log.Printf("❌ [HTTP] delete sync config %s: %v", tableName, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete sync config"})
	}
	log.Printf("🗑️ [SYNC CONFIG] %s deleted | Caller: %s", tableName, caller(c))
	return c.JSON(fiber.Map{"status": "deleted", "tableName": tableName})
}

func (h *Handler) PushSync(c *fiber.Ctx) error {
	var req sync.SourceData
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	req.TableName = strings.TrimSpace(req.TableName)
	if req.TableName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tableName is required"})
	}

	log.Printf("📬 [SYNC REQUEST] Table: %s | Rows: %d | Caller: %s", req.TableName, len(req.Rows), caller(c))

	res, err := h.syncService.PushSync(c.UserContext(), &req)
	if err != nil {
		log.Printf("❌ [HTTP] sync %s: %v", req.TableName, err)
		body := fiber.Map{"error": err.Error()}
		if res != nil {
			body["state"] = res.State
			body["record"] = res.Record
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}
	return c.JSON(res)
}

func (h *Handler) ListBackups(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")

	list, err := h.syncService.ListBackups(c.UserContext())
	if err != nil {
		log.Printf("❌ [HTTP] list backups: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(list)
}

func (h *Handler) PerformBackup(c *fiber.Ctx) error {
	log.Printf("💾 [BACKUP REQUEST] Caller: %s", caller(c))
	meta, err := h.syncService.PerformBackup(c.UserContext())
	if err != nil {
		log.Printf("❌ [HTTP] backup: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(meta)
}

func (h *Handler) RestoreBackup(c *fiber.Ctx) error {
	name := c.Params("name")
	log.Printf("♻️ [RESTORE REQUEST] %s | Caller: %s", name, caller(c))
	report, err := h.syncService.RestoreBackup(c.UserContext(), name)
	switch {
	case err == nil:
		return c.JSON(report)
	case errors.Is(err, backup.ErrInvalidName):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, backup.ErrArtifactNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "backup not found: " + name})
	case errors.Is(err, backup.ErrNotRestorable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	log.Printf("❌ [HTTP] restore %s: %v", name, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func caller(c *fiber.Ctx) string {
	if who, ok := middleware.GetCallerFromContext(c); ok {
		return who
	}
	return "unknown"
}
