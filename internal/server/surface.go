package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/bridge"
	"github.com/yourorg/hpp-checkout/internal/checkout"
)

var (
	errSurfaceClosed   = errors.New("surface closed")
	errChannelAttached = errors.New("script channel already attached")
)

// channelFrame is the envelope exchanged with the page shim over the script
// channel. Data carries the raw script message text, undecoded.
type channelFrame struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
	Data       string `json:"data,omitempty"`
	IsResponse bool   `json:"is_response,omitempty"`
	Decision   string `json:"decision,omitempty"`
}

const (
	frameStarted    = "started"
	frameFinished   = "finished"
	frameFailed     = "failed"
	frameMessage    = "message"
	frameCancel     = "cancel"
	frameNavigation = "navigation"
	framePolicy     = "policy"
	frameClosed     = "closed"
)

const writeWait = 5 * time.Second

// pageSurface is the bridge.Surface served to the app's web view: Load makes
// the producer payload available on the page endpoint and the web view
// reports back over a websocket script channel.
type pageSurface struct {
	logger *zap.Logger

	mu      sync.Mutex
	data    checkout.ProducerData
	loaded  bool
	closed  bool
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newPageSurface(logger *zap.Logger) *pageSurface {
	return &pageSurface{logger: logger}
}

func (p *pageSurface) Load(ctx context.Context, data checkout.ProducerData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errSurfaceClosed
	}
	p.data = append(checkout.ProducerData(nil), data...)
	p.loaded = true
	return nil
}

// payload returns the producer data once Load has run.
func (p *pageSurface) payload() (checkout.ProducerData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data, p.loaded && !p.closed
}

func (p *pageSurface) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = p.write(conn, channelFrame{Type: frameClosed})
	p.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "checkout finished"),
		time.Now().Add(writeWait))
	p.writeMu.Unlock()
	return conn.Close()
}

func (p *pageSurface) attach(conn *websocket.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return errSurfaceClosed
	case p.conn != nil:
		return errChannelAttached
	}
	p.conn = conn
	return nil
}

func (p *pageSurface) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pageSurface) write(conn *websocket.Conn, frame channelFrame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// serve pumps frames from the web view into b until the channel ends. A
// channel that drops before the session finished counts as a failed
// navigation; the session then reconciles.
func (p *pageSurface) serve(conn *websocket.Conn, b *bridge.Bridge) {
	defer conn.Close()
	for {
		var frame channelFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !p.isClosed() {
				p.logger.Info("script channel dropped", zap.Error(err))
				b.DidFail("", err)
			}
			return
		}

		switch frame.Type {
		case frameStarted:
			b.DidStart(frame.URL)
		case frameFinished:
			b.DidFinish(frame.URL)
		case frameFailed:
			msg := frame.Error
			if msg == "" {
				msg = "navigation failed"
			}
			b.DidFail(frame.URL, errors.New(msg))
		case frameMessage:
			b.ReceiveScriptMessage([]byte(frame.Data))
		case frameCancel:
			b.Cancel()
		case frameNavigation:
			decision := "allow"
			if b.DecidePolicy(bridge.Navigation{URL: frame.URL, IsResponse: frame.IsResponse}) == bridge.PolicyCancel {
				decision = "cancel"
			}
			if err := p.write(conn, channelFrame{Type: framePolicy, URL: frame.URL, Decision: decision}); err != nil {
				p.logger.Warn("policy reply failed", zap.Error(err))
			}
		default:
			p.logger.Debug("unknown channel frame", zap.String("type", frame.Type))
		}
	}
}
