package controllers

import (
	"net/http"
	"strconv"

	"seller_agent_backend/models"
	"seller_agent_backend/services/pricing"

	"github.com/gin-gonic/gin"
)

// RuleController handles pricing rule endpoints
type RuleController struct {
	engine *pricing.Engine
}

// NewRuleController creates a new rule controller
func NewRuleController(engine *pricing.Engine) *RuleController {
	return &RuleController{engine: engine}
}

// CreateRuleRequest is the body for creating a pricing rule
type CreateRuleRequest struct {
	ListingID     string            `json:"listing_id" binding:"required"`
	Strategy      string            `json:"strategy" binding:"required"`
	Params        models.RuleParams `json:"params"`
	MinPrice      float64           `json:"min_price"`
	MaxPrice      float64           `json:"max_price"`
	Enabled       *bool             `json:"enabled"`
	RunIntervalMs int64             `json:"run_interval_ms"`
}

// CreateRule registers a pricing rule for a listing
// POST /api/v1/rules
func (ctrl *RuleController) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := &models.PricingRule{
		ListingID:     req.ListingID,
		Strategy:      req.Strategy,
		MinPrice:      req.MinPrice,
		MaxPrice:      req.MaxPrice,
		Enabled:       true,
		RunIntervalMs: req.RunIntervalMs,
	}
	rule.SetParams(req.Params)
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := ctrl.engine.AddRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRules lists rules, optionally for one listing
// GET /api/v1/rules?listing_id=
func (ctrl *RuleController) GetRules(c *gin.Context) {
	rules := ctrl.engine.GetRules(c.Query("listing_id"))
	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns one rule
// GET /api/v1/rules/:id
func (ctrl *RuleController) GetRule(c *gin.Context) {
	rule := ctrl.engine.GetRule(c.Param("id"))
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rule":   rule,
		"params": rule.DecodedParams(),
	})
}

// DeleteRule removes a rule
// DELETE /api/v1/rules/:id
func (ctrl *RuleController) DeleteRule(c *gin.Context) {
	if !ctrl.engine.RemoveRule(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SetEnabled toggles a rule on or off
// PATCH /api/v1/rules/:id/enabled
func (ctrl *RuleController) SetEnabled(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.DefaultQuery("enabled", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be true or false"})
		return
	}
	if !ctrl.engine.SetEnabled(c.Param("id"), enabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// RunRule evaluates one rule immediately, ignoring its schedule
// POST /api/v1/rules/:id/run
func (ctrl *RuleController) RunRule(c *gin.Context) {
	res := ctrl.engine.RunRule(c.Param("id"))
	c.JSON(http.StatusOK, res)
}
