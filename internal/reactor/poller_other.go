//go:build !linux

package reactor

import (
	"time"

	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/status"
)

type PollerConfig struct {
	ControlQueueSize int
	EventGrowth      int
}

// Poller is only available on linux.
type Poller struct{}

func NewPoller(cfg PollerConfig, logger *zap.Logger) (*Poller, error) {
	return nil, status.IllegalParameter
}

func (p *Poller) BindThread(tid int)                                  {}
func (p *Poller) OnUndelivered(fn func(*Message))                     {}
func (p *Poller) InLoop() bool                                        { return false }
func (p *Poller) ClientCount() int                                    { return 0 }
func (p *Poller) AddClient(c Client, owned bool) error                { return status.Inactive }
func (p *Poller) RemoveClient(c Client) error                         { return status.Inactive }
func (p *Poller) SendExtCommand(cmd any) error                        { return status.Inactive }
func (p *Poller) PostAsyncTask(fn func()) error                       { return status.Inactive }
func (p *Poller) Exit() error                                         { return status.Inactive }
func (p *Poller) WriteMessage(msg *Message) error                     { return status.Inactive }
func (p *Poller) ReadMessage(timeout time.Duration) (*Message, error) { return nil, status.Inactive }
func (p *Poller) Close() error                                        { return nil }
