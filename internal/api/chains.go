package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/audit"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Chain is one log and its artifact exposed by the API.
type Chain struct {
	Name     string `json:"name"`
	Log      string `json:"log"`
	Artifact string `json:"artifact"`
}

// ChainHandler exposes read-only HTTP endpoints over a fixed set of chains.
type ChainHandler struct {
	chains       map[string]Chain
	names        []string
	anchors      anchor.Store
	maxLineBytes int
	auditor      *audit.Auditor
	cache        *reportCache
	logger       *zap.Logger
}

// NewChainHandler creates a ChainHandler. anchors may be nil, in which
// case checkpoint endpoints report 404 and verification is unanchored.
func NewChainHandler(chains []Chain, anchors anchor.Store, maxLineBytes int, logger *zap.Logger) *ChainHandler {
	h := &ChainHandler{
		chains:       make(map[string]Chain, len(chains)),
		anchors:      anchors,
		maxLineBytes: maxLineBytes,
		logger:       logger,
	}
	for _, c := range chains {
		h.chains[c.Name] = c
		h.names = append(h.names, c.Name)
	}
	sort.Strings(h.names)
	return h
}

// SetAuditor exposes the auditor's latest results at /chains/:name/audit.
func (h *ChainHandler) SetAuditor(a *audit.Auditor) {
	h.auditor = a
}

// SetVerifyCacheTTL enables reuse of verification reports for up to ttl,
// as long as neither the log nor the artifact changes.
func (h *ChainHandler) SetVerifyCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		h.cache = newReportCache(ttl)
	}
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	c := rg.Group("/chains")
	{
		c.GET("", h.List)
		c.GET("/:name", h.Overview)
		c.GET("/:name/verify", h.Verify)
		c.GET("/:name/records", h.ListRecords)
		c.GET("/:name/records/:idx", h.GetRecord)
		c.GET("/:name/checkpoints", h.ListCheckpoints)
		c.GET("/:name/audit", h.Audit)
	}
}

type recordView struct {
	Index       int    `json:"index"`
	LineDigest  string `json:"line_digest"`
	ChainDigest string `json:"chain_digest"`
}

func viewRecord(r chain.Record) recordView {
	return recordView{Index: r.Index, LineDigest: r.LineHex(), ChainDigest: r.ChainHex()}
}

type chainView struct {
	Chain
	Algorithm string       `json:"algorithm,omitempty"`
	Format    chain.Format `json:"format,omitempty"`
	Records   int          `json:"records"`
	Head      string       `json:"head,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func (h *ChainHandler) lookup(c *gin.Context) (Chain, bool) {
	ch, ok := h.chains[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chain not found"})
	}
	return ch, ok
}

func (h *ChainHandler) summarize(ctx context.Context, ch Chain) chainView {
	v := chainView{Chain: ch}
	sum, err := chain.Summarize(ctx, ch.Artifact)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Algorithm = sum.Header.Algorithm
	v.Format = sum.Format
	v.Records = sum.Records
	v.Head = sum.Head
	metrics.SetChainRecords(ch.Name, sum.Records)
	return v
}

// List handles GET /chains and summarises every configured chain.
// An unreadable artifact is reported in its entry, not as a failed request.
func (h *ChainHandler) List(c *gin.Context) {
	out := make([]chainView, 0, len(h.names))
	for _, name := range h.names {
		out = append(out, h.summarize(c.Request.Context(), h.chains[name]))
	}
	c.JSON(http.StatusOK, gin.H{"chains": out})
}

// Overview handles GET /chains/:name and returns the artifact summary and,
// when anchoring is configured, its latest checkpoint.
func (h *ChainHandler) Overview(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sum, err := chain.Summarize(ctx, ch.Artifact)
	if err != nil {
		h.fail(c, "summarize artifact", err)
		return
	}
	metrics.SetChainRecords(ch.Name, sum.Records)

	resp := gin.H{
		"name":      ch.Name,
		"log":       ch.Log,
		"artifact":  ch.Artifact,
		"algorithm": sum.Header.Algorithm,
		"format":    sum.Format,
		"records":   sum.Records,
		"head":      sum.Head,
	}
	if h.anchors != nil {
		cp, err := h.anchors.Latest(ctx, ch.Name)
		switch {
		case errors.Is(err, anchor.ErrNotFound):
		case err != nil:
			h.logger.Warn("latest checkpoint", zap.String("chain", ch.Name), zap.Error(err))
		default:
			resp["checkpoint"] = cp
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Verify handles GET /chains/:name/verify. With ?anchor=true the latest
// checkpoint is enforced. Every verdict is a 200; only failures to
// produce a verdict are errors.
func (h *ChainHandler) Verify(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	opts := chain.VerifyOptions{
		Algorithm:    c.Query("algorithm"),
		MaxLineBytes: h.maxLineBytes,
		Logger:       h.logger,
	}

	if anchored, _ := strconv.ParseBool(c.Query("anchor")); anchored {
		if h.anchors == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "anchoring is not configured"})
			return
		}
		cp, err := h.anchors.Latest(ctx, ch.Name)
		switch {
		case errors.Is(err, anchor.ErrNotFound):
		case err != nil:
			h.fail(c, "latest checkpoint", err)
			return
		default:
			if opts.Checkpoint, err = cp.Chain(); err != nil {
				h.fail(c, "decode checkpoint", err)
				return
			}
		}
	}

	key := ch.Name + "|" + opts.Algorithm
	if opts.Checkpoint != nil {
		key += "|" + strconv.Itoa(opts.Checkpoint.Records) + ":" + hex.EncodeToString(opts.Checkpoint.Head)
	}
	fp, fpOK := takeFingerprint(ch.Log, ch.Artifact)
	if h.cache != nil && fpOK {
		if rep, ok := h.cache.get(key, fp); ok {
			c.Header("X-Cache", "HIT")
			c.JSON(http.StatusOK, rep)
			return
		}
	}

	start := time.Now()
	rep, err := chain.Verify(ctx, ch.Log, ch.Artifact, opts)
	metrics.RecordVerify(rep, err, time.Since(start))
	if err != nil {
		h.fail(c, "verify", err)
		return
	}
	if h.cache != nil && fpOK {
		// Only cache when the files did not change while being verified.
		if after, ok := takeFingerprint(ch.Log, ch.Artifact); ok && after.same(fp) {
			h.cache.evict()
			h.cache.set(key, fp, rep)
		}
	}
	if rep.Verdict != chain.VerdictValid {
		h.logger.Warn("chain verification",
			zap.String("chain", ch.Name),
			zap.String("verdict", string(rep.Verdict)),
			zap.Intp("index", rep.Index),
		)
	}
	c.JSON(http.StatusOK, rep)
}

// ListRecords handles GET /chains/:name/records?from=N&limit=M.
func (h *ChainHandler) ListRecords(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	from, err := strconv.Atoi(c.DefaultQuery("from", "0"))
	if err != nil || from < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a non-negative integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxPageSize)})
		return
	}

	records := make([]recordView, 0, limit)
	sum, err := chain.Scan(c.Request.Context(), ch.Artifact, from, limit, func(r chain.Record) error {
		records = append(records, viewRecord(r))
		return nil
	})
	if err != nil {
		h.fail(c, "scan artifact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   sum.Records,
		"from":    from,
	})
}

// GetRecord handles GET /chains/:name/records/:idx.
func (h *ChainHandler) GetRecord(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	rec, err := chain.RecordAt(c.Request.Context(), ch.Artifact, idx)
	if err != nil {
		if errors.Is(err, chain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		h.fail(c, "read record", err)
		return
	}
	c.JSON(http.StatusOK, viewRecord(rec))
}

// ListCheckpoints handles GET /chains/:name/checkpoints.
func (h *ChainHandler) ListCheckpoints(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.anchors == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "anchoring is not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxPageSize)})
		return
	}
	cps, err := h.anchors.List(c.Request.Context(), ch.Name, limit)
	if err != nil {
		h.fail(c, "list checkpoints", err)
		return
	}
	if cps == nil {
		cps = []*anchor.Checkpoint{}
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cps})
}

// Audit handles GET /chains/:name/audit and returns the latest periodic
// audit result.
func (h *ChainHandler) Audit(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.auditor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "periodic audit is not enabled"})
		return
	}
	res, ok := h.auditor.Result(ch.Name)
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// fail maps a chain error to an HTTP status and a stable error code.
func (h *ChainHandler) fail(c *gin.Context, op string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, chain.ErrAlgorithmMismatch):
		status, code = http.StatusUnprocessableEntity, "algorithm_mismatch"
	case errors.Is(err, chain.ErrInvariantViolation):
		code = "invariant_violation"
	case errors.Is(err, chain.ErrMalformedArtifact):
		status, code = http.StatusUnprocessableEntity, "malformed_artifact"
	case errors.Is(err, chain.ErrIO):
		code = "io_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "canceled"
	}
	h.logger.Error(op, zap.String("chain", c.Param("name")), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
