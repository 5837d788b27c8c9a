package workflow

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type queueDeliveryRequest struct {
	QueueType string `json:"queue_type" binding:"required"`
}

// QueueValidationHandler puts one invoice on the validation queue.
func QueueValidationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		job, err := QueueInvoiceForValidation(c.Request.Context(), nil, businessId, invoiceId)
		if err != nil {
			writeQueueError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID})
	}
}

// QueueDeliveryHandler puts a validated invoice on the pdf or email queue.
func QueueDeliveryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		var req queueDeliveryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		queueType := models.IntegrationType(strings.ToLower(strings.TrimSpace(req.QueueType)))

		job, err := QueueInvoiceForDelivery(c.Request.Context(), nil, businessId, invoiceId, queueType)
		if err != nil {
			writeQueueError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID})
	}
}

func writeQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotEligible):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func resolveBusinessID(c *gin.Context) (string, error) {
	if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); ok && strings.TrimSpace(businessId) != "" {
		return businessId, nil
	}
	businessId := strings.TrimSpace(c.Query("business_id"))
	if businessId == "" {
		businessId = strings.TrimSpace(c.GetHeader("x-business-id"))
	}
	if businessId == "" {
		return "", errors.New("business_id is required")
	}
	// The tenant guard keys off this context value; set it so every query
	// downstream of this handler is scoped automatically.
	c.Request = c.Request.WithContext(utils.SetBusinessIdInContext(c.Request.Context(), businessId))
	return businessId, nil
}
