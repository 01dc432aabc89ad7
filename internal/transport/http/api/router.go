package apihttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"stopguard/internal/exit"
	"stopguard/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	maxBodyBytes   = 64 << 10
	defaultJournal = 100
	maxJournal     = 1000
)

// Router 暴露 /api 下的规则接口。
type Router struct {
	rules    RuleService
	profiles ProfileResolver
	actions  ActionReader
	cycles   CycleRunner
	schema   *jsonschema.Schema
}

func NewRouter(rules RuleService, profiles ProfileResolver, actions ActionReader, cycles CycleRunner) *Router {
	return &Router{
		rules:    rules,
		profiles: profiles,
		actions:  actions,
		cycles:   cycles,
		schema:   compileRuleSchema(),
	}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/rules", r.handleCreateRule)
	group.GET("/rules", r.handleListRules)
	group.GET("/rules/:ticket", r.handleGetRule)
	group.DELETE("/rules/:ticket", r.handleDeleteRule)
	group.GET("/rules/:ticket/journal", r.handleRuleJournal)
	group.GET("/rules/:ticket/chart", r.handleRuleChart)
	group.POST("/cycle", r.handleRunCycle)
}

func (r *Router) handleCreateRule(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := r.schema.Validate(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": schemaMessage(err)})
		return
	}
	var req CreateRuleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir, err := exit.ParseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := req.Config.toConfig()
	if r.profiles != nil {
		profile, ok := r.profiles.Resolve(req.Symbol, cfg.SymbolClass)
		if !ok && cfg.SymbolClass != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown symbol_class: " + cfg.SymbolClass})
			return
		}
		if ok {
			cfg = profile.Apply(cfg)
		}
	}
	ticket, err := r.rules.Add(exit.RuleSpec{
		Ticket:     req.Ticket,
		Symbol:     req.Symbol,
		Direction:  dir,
		EntryPrice: req.EntryPrice,
		InitialSL:  req.InitialSL,
		InitialTP:  req.InitialTP,
		Config:     cfg,
	})
	switch {
	case errors.Is(err, exit.ErrRuleExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, exit.ErrInvalidRule):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rule, _ := r.rules.Get(ticket)
	c.JSON(http.StatusCreated, gin.H{"ticket": ticket, "rule": newRuleView(rule)})
}

func (r *Router) handleListRules(c *gin.Context) {
	rules := r.rules.SnapshotActive()
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	views := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		if symbol != "" && rule.Symbol != symbol {
			continue
		}
		views = append(views, newRuleView(rule))
	}
	c.JSON(http.StatusOK, gin.H{"rules": views, "count": len(views)})
}

func (r *Router) handleGetRule(c *gin.Context) {
	ticket, ok := ticketParam(c)
	if !ok {
		return
	}
	rule, found := r.rules.Get(ticket)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": exit.ErrRuleNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, newRuleView(rule))
}

func (r *Router) handleDeleteRule(c *gin.Context) {
	ticket, ok := ticketParam(c)
	if !ok {
		return
	}
	if !r.rules.Remove(ticket) {
		c.JSON(http.StatusNotFound, gin.H{"error": exit.ErrRuleNotFound.Error()})
		return
	}
	logger.Infof("HTTP: 手动移除规则 ticket=%d", ticket)
	c.Status(http.StatusNoContent)
}

func (r *Router) handleRuleJournal(c *gin.Context) {
	ticket, ok := ticketParam(c)
	if !ok {
		return
	}
	entries, ok := r.loadJournal(c, ticket)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "entries": entries, "count": len(entries)})
}

func (r *Router) handleRuleChart(c *gin.Context) {
	ticket, ok := ticketParam(c)
	if !ok {
		return
	}
	entries, ok := r.loadJournal(c, ticket)
	if !ok {
		return
	}
	rule, _ := r.rules.Get(ticket)
	var buf bytes.Buffer
	if err := renderStopChart(&buf, ticket, rule, entries); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (r *Router) handleRunCycle(c *gin.Context) {
	if r.cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "poller not configured"})
		return
	}
	report, ran := r.cycles.RunOnce(c.Request.Context())
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "a cycle is already running"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) loadJournal(c *gin.Context, ticket int64) ([]exit.JournalEntry, bool) {
	if r.actions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal store not configured"})
		return nil, false
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultJournal)))
	if limit <= 0 {
		limit = defaultJournal
	}
	if limit > maxJournal {
		limit = maxJournal
	}
	entries, err := r.actions.ListActions(c.Request.Context(), ticket, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return entries, true
}

func ticketParam(c *gin.Context) (int64, bool) {
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil || ticket <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket"})
		return 0, false
	}
	return ticket, true
}

func schemaMessage(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		leaf := verr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return loc + ": " + leaf.Message
	}
	return err.Error()
}
