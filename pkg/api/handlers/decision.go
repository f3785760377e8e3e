package handlers

import (
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/audit"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
	"github.com/ebpf-microsegment/connguard/pkg/execctx"
)

// containerNamespace stands in for any non-host namespace when the
// caller does not name one.
const containerNamespace uint64 = 0xF0000000

// Evaluator produces decisions. Evaluate has no side effects; Decide
// updates counters and audits blocks.
type Evaluator interface {
	Evaluate(ctx execctx.Context, req engine.Request) engine.Decision
	Decide(ctx execctx.Context, req engine.Request) engine.Decision
}

// DecisionHandler evaluates hypothetical connection attempts
type DecisionHandler struct {
	evaluator Evaluator
	node      string
}

// NewDecisionHandler creates a new decision handler. node is reported as
// the node name of the hypothetical process.
func NewDecisionHandler(e Evaluator, node string) *DecisionHandler {
	return &DecisionHandler{evaluator: e, node: node}
}

// Evaluate handles POST /api/v1/decisions
func (h *DecisionHandler) Evaluate(c *gin.Context) {
	var req models.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body", err.Error())
		return
	}

	dst, err := netip.ParseAddr(req.Dst)
	if err != nil || !dst.Is4() {
		respondError(c, http.StatusBadRequest, "validation_error", "dst must be an IPv4 address", req.Dst)
		return
	}
	var src netip.Addr
	if req.Src != "" {
		if src, err = netip.ParseAddr(req.Src); err != nil || !src.Is4() {
			respondError(c, http.StatusBadRequest, "validation_error", "src must be an IPv4 address", req.Src)
			return
		}
	}

	proc := execctx.NewStatic(req.PID, req.Command, h.node)
	if req.Container || req.NamespaceID != 0 {
		ns := req.NamespaceID
		if ns == 0 {
			ns = containerNamespace
		}
		proc = proc.InNamespace(ns)
	}

	er := engine.Request{
		Dst:       dst.As4(),
		Port:      [2]byte{byte(req.Port >> 8), byte(req.Port)},
		Operation: audit.OpConnect,
	}
	if src.IsValid() {
		er.Src = src.As4()
	}

	var d engine.Decision
	if req.Record {
		d = h.evaluator.Decide(proc, er)
	} else {
		d = h.evaluator.Evaluate(proc, er)
	}
	c.JSON(http.StatusOK, models.DecisionResponse{
		Computed:  d.Computed.String(),
		Returned:  d.Returned.String(),
		Reason:    string(d.Reason),
		Monitored: d.Monitored,
		Audited:   d.Audited,
		Published: d.Published,
	})
}
