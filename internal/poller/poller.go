// Package poller runs the read, decode, resolve, persist and diagnose
// cycle against one controller.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/diagnostics"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/measurement"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/modbus"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/multiplexer"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/storage"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Writer persists the row of a cycle.
type Writer interface {
	Write(ctx context.Context, row *storage.Row) error
}

type Options struct {
	Interval time.Duration
	// SettleDelay is the fixed pause between two transport operations.
	SettleDelay   time.Duration
	SettleTime    time.Duration
	StaleSamples  string
	InvalidValues string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:      cfg.Poller.Interval,
		SettleDelay:   cfg.Transport.SettleDelay,
		SettleTime:    cfg.Multiplexer.SettleTime,
		StaleSamples:  cfg.Multiplexer.StaleSamples,
		InvalidValues: cfg.Poller.InvalidValues,
	}
}

func (o Options) trust() multiplexer.TrustPolicy {
	return multiplexer.TrustPolicy{Interval: o.Interval, SettleTime: o.SettleTime}
}

type Poller struct {
	catalog  *registers.Catalog
	resolver *multiplexer.Resolver
	dial     modbus.Dialer
	retry    modbus.RetryPolicy
	writer   Writer
	opts     Options
	logger   *zap.Logger

	// owned by the cycle, guarded by cycleMu
	cycleMu  sync.Mutex
	session  modbus.Session
	previous *multiplexer.Phase

	resultMu  sync.RWMutex
	last      *CycleResult
	observers []func(CycleResult)

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// New creates a poller. resolver is nil for devices without a multiplexer,
// writer is nil when persistence is disabled.
func New(
	catalog *registers.Catalog,
	resolver *multiplexer.Resolver,
	dial modbus.Dialer,
	retry modbus.RetryPolicy,
	writer Writer,
	opts Options,
	logger *zap.Logger,
) *Poller {
	return &Poller{
		catalog:  catalog,
		resolver: resolver,
		dial:     dial,
		retry:    retry,
		writer:   writer,
		opts:     opts,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Subscribe registers fn to be called after every cycle.
func (p *Poller) Subscribe(fn func(CycleResult)) {
	p.resultMu.Lock()
	defer p.resultMu.Unlock()
	p.observers = append(p.observers, fn)
}

// Last returns the most recent cycle.
func (p *Poller) Last() (CycleResult, bool) {
	p.resultMu.RLock()
	defer p.resultMu.RUnlock()
	if p.last == nil {
		return CycleResult{}, false
	}
	return *p.last, true
}

func (p *Poller) Catalog() *registers.Catalog {
	return p.catalog
}

// Start startet das zyklische Polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.opts.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started",
		zap.String("profile", p.catalog.Profile().ID),
		zap.Duration("interval", p.opts.Interval))

	return nil
}

// Stop waits for the running cycle to finish and closes the session.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.Close()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.Close()
	p.logger.Info("Poller stopped", zap.String("profile", p.catalog.Profile().ID))
}

// IsRunning gibt an ob Poller läuft
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close releases the transport session.
func (p *Poller) Close() {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	p.dropSession()
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.runScheduled()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.runScheduled()
		}
	}
}

// runScheduled is not tied to stop: a started cycle always completes.
func (p *Poller) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Interval)
	defer cancel()
	p.RunCycle(ctx)
}

// RunCycle polls once. Cycles never overlap.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	res := CycleResult{ID: uuid.New(), StartedAt: time.Now()}
	log := p.logger.With(zap.String("cycle_id", res.ID.String()))

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		p.publish(res)
	}()

	session, err := p.connect(ctx, log)
	if err != nil {
		// the phase of this poll is unknown
		p.previous = nil
		res.Err = err
		res.Error = err.Error()
		log.Error("Cycle aborted", zap.Error(err))
		return res
	}

	words, readErrs := p.readBlocks(ctx, session, log)
	for _, e := range readErrs {
		res.ReadErrors = append(res.ReadErrors, e.Error())
	}

	row, input := p.decode(words, &res)

	if p.writer != nil {
		if err := p.writer.Write(ctx, row); err != nil {
			res.Err = err
			res.Error = err.Error()
			log.Error("Failed to persist row", zap.Error(err))
		} else {
			res.Persisted = true
		}
	}

	res.Hypotheses = diagnostics.Classify(input)
	for _, h := range res.Hypotheses {
		log.Warn("Diagnostic hypothesis",
			zap.String("code", h.Code),
			zap.Stringer("severity", h.Severity),
			zap.String("sensor", h.Sensor),
			zap.String("message", h.Message))
	}

	log.Info("Cycle completed",
		zap.String("phase", res.Phase),
		zap.Bool("trusted", res.Trusted),
		zap.Int("values", len(res.Values)),
		zap.Int("read_errors", len(readErrs)),
		zap.Bool("persisted", res.Persisted),
		zap.Duration("duration", time.Since(res.StartedAt)))

	return res
}

func (p *Poller) publish(res CycleResult) {
	p.resultMu.Lock()
	p.last = &res
	observers := append([]func(CycleResult){}, p.observers...)
	p.resultMu.Unlock()

	for _, fn := range observers {
		fn(res)
	}
}

// connect reuses the session of the previous cycle while it is healthy.
func (p *Poller) connect(ctx context.Context, log *zap.Logger) (modbus.Session, error) {
	if p.session != nil {
		return p.session, nil
	}

	// Verbindung herstellen
	s, err := p.dial(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %w", types.ErrTransportUnavailable, err)
		}
		return nil, err
	}

	log.Info("Connected to controller", zap.String("profile", p.catalog.Profile().ID))
	p.session = modbus.WithRetry(s, p.retry, p.logger)
	return p.session, nil
}

func (p *Poller) dropSession() {
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		p.logger.Warn("Failed to close session", zap.Error(err))
	}
	p.session = nil
}

// readBlocks reads every catalog block. A failed block only loses its own
// registers.
func (p *Poller) readBlocks(ctx context.Context, session modbus.Session, log *zap.Logger) (map[uint16]uint16, []error) {
	words := make(map[uint16]uint16)
	var errs []error

	for i, block := range p.catalog.Reads() {
		if i > 0 && p.opts.SettleDelay > 0 {
			time.Sleep(p.opts.SettleDelay)
		}

		var (
			values []uint16
			err    error
		)
		switch block.Kind {
		case registers.BlockInput:
			values, err = session.ReadInputBlock(ctx, block.Start, block.Count)
		default:
			values, err = session.ReadBlock(ctx, block.Start, block.Count)
		}

		if err != nil {
			readErr := &types.RegisterReadError{Start: block.Start, Count: block.Count, Err: err}
			errs = append(errs, readErr)
			log.Warn("Block read failed",
				zap.Uint16("start", block.Start),
				zap.Uint16("count", block.Count),
				zap.String("kind", string(block.Kind)),
				zap.Error(err))

			if errors.Is(err, modbus.ErrNotConnected) {
				// next cycle dials again
				p.dropSession()
			}
			continue
		}

		for j, v := range values {
			words[block.Start+uint16(j)] = v
		}
	}

	return words, errs
}

// decode builds the row in column order: registers by address, flags by
// register and bit, shared-channel sensors by channel and phase.
func (p *Poller) decode(words map[uint16]uint16, res *CycleResult) (*storage.Row, diagnostics.Input) {
	row := storage.NewRow(res.StartedAt)
	var input diagnostics.Input
	decoded := make(map[string]measurement.Measurement)

	for _, d := range p.catalog.Descriptors() {
		raw, ok := words[d.Address]
		if !ok {
			row.AddFloat(d.Name, nil)
			res.Values = append(res.Values, Value{Name: d.Name, Address: d.Address, Unit: d.Unit})
			continue
		}

		m := measurement.Decode(raw, d)
		decoded[d.Name] = m
		input.Readings = append(input.Readings, diagnostics.Reading{Measurement: m})
		row.AddFloat(d.Name, p.persisted(m))
		res.Values = append(res.Values, view(m, false, false))
	}

	for _, addr := range p.catalog.FlagRegisters() {
		raw, ok := words[addr]
		bits := p.catalog.DecodeBits(raw, addr)
		for _, b := range bits {
			fv := FlagValue{Column: b.ColumnName(), Register: addr, Bit: b.Index}
			if !ok {
				row.AddNullBool(fv.Column)
				res.Flags = append(res.Flags, fv)
				continue
			}
			set := b.Set
			fv.Set = &set
			row.AddBool(fv.Column, b.Set)
			res.Flags = append(res.Flags, fv)
			input.Flags = append(input.Flags, diagnostics.Flag{Register: addr, Bit: b})
		}
	}

	if p.resolver != nil {
		p.decodeShared(words, res, row, &input, decoded)
	}

	for i := range input.Readings {
		ref := input.Readings[i].Measurement.Descriptor.Reference
		if ref == "" {
			continue
		}
		if m, ok := decoded[ref]; ok && m.Valid {
			v := m.Value
			input.Readings[i].Reference = &v
		}
	}

	return row, input
}

func (p *Poller) decodeShared(
	words map[uint16]uint16,
	res *CycleResult,
	row *storage.Row,
	input *diagnostics.Input,
	decoded map[string]measurement.Measurement,
) {
	status, known := words[p.resolver.StatusRegister()]

	var (
		phase   multiplexer.Phase
		trusted bool
	)
	if known {
		phase = p.resolver.PhaseOf(status)
		trusted = p.opts.trust().Trusted(p.previous, phase)
		current := phase
		p.previous = &current

		res.Phase = phase.String()
		res.Trusted = trusted
		input.Phase = phase
		input.PhaseKnown = true
	} else {
		// a transition may hide in this poll
		p.previous = nil
	}

	for _, ch := range p.resolver.Channels() {
		for _, ph := range []multiplexer.Phase{multiplexer.PhaseA, multiplexer.PhaseB} {
			source, _ := p.resolver.Source(ch, ph)
			raw, ok := words[source]
			sample, _ := p.resolver.Resolve(ch, raw, ph)
			sensor := sample.Sensor

			if !known || ph != phase || !ok {
				row.AddFloat(sensor.Name, nil)
				res.Values = append(res.Values, Value{Name: sensor.Name, Address: source, Unit: sensor.Unit, Multiplexed: true})
				continue
			}

			m := measurement.Decode(sample.Raw, sensor)
			stale := !trusted
			decoded[sensor.Name] = m
			input.Readings = append(input.Readings, diagnostics.Reading{Measurement: m, Multiplexed: true, Stale: stale})
			res.Values = append(res.Values, view(m, true, stale))

			if stale && p.opts.StaleSamples != config.StaleFlag {
				row.AddFloat(sensor.Name, nil)
				continue
			}
			row.AddFloat(sensor.Name, p.persisted(m))
		}
	}
}

// persisted is the value written for m; invalid readings are kept unless
// configured otherwise.
func (p *Poller) persisted(m measurement.Measurement) *float64 {
	if !m.Valid && p.opts.InvalidValues == config.InvalidNull {
		return nil
	}
	v := m.Value
	return &v
}

func view(m measurement.Measurement, multiplexed, stale bool) Value {
	raw := m.Raw
	value := m.Value
	return Value{
		Name:        m.Name(),
		Address:     m.Descriptor.Address,
		Unit:        m.Descriptor.Unit,
		Raw:         &raw,
		Value:       &value,
		Valid:       m.Valid,
		Multiplexed: multiplexed,
		Stale:       stale,
	}
}
