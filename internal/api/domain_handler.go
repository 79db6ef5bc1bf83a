package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"certwatch/internal/domain"
	"certwatch/internal/repository"
	"certwatch/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScanService is the slice of the scheduler the HTTP layer needs.
type ScanService interface {
	Sweep(ctx context.Context) (scheduler.SweepStats, error)
	ScanDomain(ctx context.Context, d domain.Domain) (domain.CertificateRecord, error)
}

// Clock mirrors scheduler.Clock; handlers need a time source to derive tiers.
type Clock interface {
	Now() time.Time
}

type CertHandler struct {
	Registry repository.DomainRegistry
	Records  repository.RecordStore
	Scans    ScanService
	Clock    Clock
}

func NewCertHandler(registry repository.DomainRegistry, records repository.RecordStore, scans ScanService, clock Clock) *CertHandler {
	return &CertHandler{
		Registry: registry,
		Records:  records,
		Scans:    scans,
		Clock:    clock,
	}
}

// RegisterRoutes mounts the engine's collaborator surface.
func (h *CertHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sweeps", h.TriggerSweep)
	rg.POST("/events/domain-created", h.DomainCreated)
	rg.POST("/domains/:id/scan", h.ScanDomain)
	rg.GET("/domains/:id/certificate", h.LatestCertificate)
	rg.GET("/certificates/expiring", h.ListExpiring)
}

// TriggerSweep kicks off a full sweep in the background and returns
// immediately; sweep progress goes to the log.
func (h *CertHandler) TriggerSweep(c *gin.Context) {
	go func() {
		if _, err := h.Scans.Sweep(context.Background()); err != nil {
			logrus.Errorf("[api] manual sweep failed: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "sweep started"})
}

type domainCreatedEvent struct {
	Hostname string `json:"hostname" binding:"required,hostname_rfc1123"`
	OwnerID  string `json:"owner_id" binding:"required"`
}

// DomainCreated is the ingress for the registry's domain-created event and
// triggers an immediate scan of the new domain.
func (h *CertHandler) DomainCreated(c *gin.Context) {
	var ev domainCreatedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Hostnames can be registered by more than one tenant; the lookup is
	// scoped to the owner so the event scans its own tenant's domain.
	d, err := h.Registry.FindByHostname(c.Request.Context(), ev.Hostname, ev.OwnerID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown domain: " + ev.Hostname})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.runScan(c, *d)
}

// ScanDomain runs an on-demand scan for one registered domain.
func (h *CertHandler) ScanDomain(c *gin.Context) {
	d, ok := h.lookupDomain(c)
	if !ok {
		return
	}
	h.runScan(c, *d)
}

func (h *CertHandler) runScan(c *gin.Context, d domain.Domain) {
	rec, err := h.Scans.ScanDomain(c.Request.Context(), d)
	if errors.Is(err, scheduler.ErrScanInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": "scan already in flight"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record": rec,
		"tier":   domain.Classify(&rec, h.Clock.Now()),
	})
}

// LatestCertificate returns the newest record for a domain plus its derived
// tier. A never-probed domain reports tier "no-cert" rather than a 404.
func (h *CertHandler) LatestCertificate(c *gin.Context) {
	d, ok := h.lookupDomain(c)
	if !ok {
		return
	}

	rec, err := h.Records.Latest(c.Request.Context(), d.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"domain": d,
		"record": rec,
		"tier":   domain.Classify(rec, h.Clock.Now()),
	})
}

// ListExpiring returns domains whose latest valid certificate expires within
// the lookahead window. Consumed by the alert dispatcher.
func (h *CertHandler) ListExpiring(c *gin.Context) {
	lookahead := 30
	if raw := c.Query("lookahead_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lookahead_days must be between 1 and 365"})
			return
		}
		lookahead = n
	}

	expiring, err := h.Records.ListExpiring(c.Request.Context(), lookahead, h.Clock.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lookahead_days": lookahead,
		"count":          len(expiring),
		"results":        expiring,
	})
}

func (h *CertHandler) lookupDomain(c *gin.Context) (*domain.Domain, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain id"})
		return nil, false
	}

	d, err := h.Registry.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return d, true
}
