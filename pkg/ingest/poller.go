package ingest

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/logging"
)

// DefaultPollSpec fires at the top of every hour.
const DefaultPollSpec = "0 * * * *"

// Poller owns the cron scheduler that triggers one refresh per stream.
type Poller struct {
	cron   *cron.Cron
	spec   string
	logger *zap.Logger
}

func NewPoller(logger *zap.Logger, spec string) *Poller {
	if spec == "" {
		spec = DefaultPollSpec
	}
	logger = logger.With(zap.String("component", "poller"))
	cl := logging.NewCronLogger(logger)
	return &Poller{
		cron:   cron.New(cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl)),
		spec:   spec,
		logger: logger,
	}
}

// Schedule registers fn under its own trigger so every stream keeps an independent schedule.
func (p *Poller) Schedule(name string, fn func()) error {
	_, err := p.cron.AddFunc(p.spec, func() {
		p.logger.Info("Poll tick", zap.String("stream", name))
		fn()
	})
	return err
}

func (p *Poller) Start() {
	p.cron.Start()
	p.logger.Info("Poller started", zap.String("cronSpec", p.spec), zap.Int("triggers", len(p.cron.Entries())))
}

// Stop halts the scheduler and waits for running callbacks to return.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Poller) Entries() int { return len(p.cron.Entries()) }
