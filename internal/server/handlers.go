package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/bridge"
	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/requestbuilder"
	"github.com/yourorg/hpp-checkout/internal/session"
)

const maxRequestBody = 64 << 10

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	State       string `json:"state"`
	BridgeToken string `json:"bridge_token"`
	PageURL     string `json:"page_url"`
	BridgeURL   string `json:"bridge_url"`
}

type sessionStatus struct {
	SessionID       string `json:"session_id"`
	State           string `json:"state"`
	DraftOrderID    int64  `json:"draft_order_id,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	BusinessOrderID *int64 `json:"business_order_id,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorKind       string `json:"error_kind,omitempty"`
	Reconciled      bool   `json:"reconciled"`
}

func statusFromRecord(rec session.Record) sessionStatus {
	st := sessionStatus{
		SessionID:    rec.ID,
		State:        rec.State.String(),
		DraftOrderID: rec.DraftOrderID,
		Reconciled:   rec.Reconciled,
	}
	if rec.Terminal() {
		st.Outcome = rec.Outcome.String()
		st.BusinessOrderID = rec.BusinessOrderID
		if rec.Err != nil {
			st.Error = checkout.UserMessage(rec.Err)
			st.ErrorKind = checkout.Kind(rec.Err)
		}
	}
	return st
}

func (s *Server) createSession(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}
	valid, violations, err := s.contract.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkout request", "violations": violations})
		return
	}

	var req checkout.CheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkout request: " + err.Error()})
		return
	}
	if _, err := requestbuilder.FromCheckoutRequest(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	traceCtx, checkoutCtx, err := s.builder.BuildContexts(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, checkout.ErrInvalidRequest) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	e := &entry{}
	opts := []session.Option{
		session.WithTraceContext(traceCtx),
		session.WithCompletionHandler(func(done checkout.Completion) {
			s.logger.Debug("completion delivered", zap.String("trace_id", traceCtx.TraceID), zap.Stringer("outcome", done.Outcome))
		}),
	}
	if s.pageTimeout > 0 {
		opts = append(opts, session.WithPageTimeout(s.pageTimeout))
	}
	sess := session.New(req, session.Dependencies{
		Transport:  s.transport,
		Reconciler: s.reconciler,
		NewSurface: func(id string) (bridge.Surface, error) {
			ps := newPageSurface(s.logger.With(zap.String("session_id", id)))
			e.surface.Store(ps)
			return ps, nil
		},
		Logger: s.logger,
	}, opts...)
	e.session = sess

	token, err := s.tokens.Issue(sess.ID())
	if err != nil {
		s.logger.Error("issue bridge token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue bridge token"})
		return
	}
	e.token = token

	// Sessions outlive this request; keep only its trace as the parent.
	ctx := trace.ContextWithSpanContext(s.baseCtx, trace.SpanContextFromContext(c.Request.Context()))
	cancel := func() {}
	if timeout := checkoutCtx.Store.SessionTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	if err := sess.Start(ctx); err != nil {
		cancel()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.registry.add(e)
	go func() {
		<-sess.Done()
		cancel()
	}()

	base := fmt.Sprintf("/checkout/sessions/%s", sess.ID())
	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID:   sess.ID(),
		State:       sess.State().String(),
		BridgeToken: token,
		PageURL:     base + "/page?token=" + token,
		BridgeURL:   base + "/bridge?token=" + token,
	})
}

func (s *Server) getSession(c *gin.Context) {
	e, ok := s.registry.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, statusFromRecord(e.session.Snapshot()))
}

// authorize resolves the session named in the path and checks the channel token.
func (s *Server) authorize(c *gin.Context) (*entry, bool) {
	id := c.Param("id")
	e, ok := s.registry.get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if err := s.tokens.Verify(c.Query("token"), id); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid bridge token"})
		return nil, false
	}
	return e, true
}

func (s *Server) getPage(c *gin.Context) {
	e, ok := s.authorize(c)
	if !ok {
		return
	}
	surface := e.surface.Load()
	if surface == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "page not ready", "state": e.session.State().String()})
		return
	}
	data, ready := surface.payload()
	if !ready {
		c.JSON(http.StatusConflict, gin.H{"error": "page not ready", "state": e.session.State().String()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) openBridge(c *gin.Context) {
	e, ok := s.authorize(c)
	if !ok {
		return
	}
	surface := e.surface.Load()
	b := e.session.Bridge()
	if surface == nil || b == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "page not ready", "state": e.session.State().String()})
		return
	}
	if surface.isClosed() {
		c.JSON(http.StatusGone, gin.H{"error": "session finished"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("script channel upgrade failed", zap.String("session_id", e.session.ID()), zap.Error(err))
		return
	}
	if err := surface.attach(conn); err != nil {
		_ = surface.write(conn, channelFrame{Type: frameClosed, Error: err.Error()})
		conn.Close()
		return
	}
	surface.serve(conn, b)
}

func (s *Server) cancelSession(c *gin.Context) {
	e, ok := s.authorize(c)
	if !ok {
		return
	}
	if err := e.session.Cancel(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": e.session.ID(), "state": e.session.State().String()})
}

func (s *Server) retrospective(c *gin.Context) {
	report, err := s.reporter.GenerateRetrospective(s.registry.records())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
