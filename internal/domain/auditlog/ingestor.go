package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/recordchain/internal/domain/identity"
	"github.com/ehr/recordchain/internal/platform/ledger"
	"github.com/ehr/recordchain/internal/platform/websocket"
)

// Topic is the websocket topic ingested entries are published on.
const Topic = "ledger"

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// EventSource streams chaincode events after a checkpoint.
type EventSource interface {
	ChaincodeEvents(ctx context.Context, after *ledger.Checkpoint) (<-chan ledger.Event, error)
}

type Checkpoints interface {
	Load() (*ledger.Checkpoint, error)
	Save(cp ledger.Checkpoint) error
}

// Doctors resolves the doctor an event refers to.
type Doctors interface {
	DoctorByWallet(ctx context.Context, wallet string) (*identity.Doctor, error)
	DoctorByCode(ctx context.Context, code string) (*identity.Doctor, error)
}

// Ingestor turns ledger events into admin_log rows and pushes them to
// connected admins.
type Ingestor struct {
	source      EventSource
	checkpoints Checkpoints
	doctors     Doctors
	repo        Repository
	publisher   websocket.Publisher
	logger      zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewIngestor(source EventSource, checkpoints Checkpoints, doctors Doctors, repo Repository,
	publisher websocket.Publisher, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		source:      source,
		checkpoints: checkpoints,
		doctors:     doctors,
		repo:        repo,
		publisher:   publisher,
		logger:      logger.With().Str("component", "ingestor").Logger(),
		minBackoff:  minBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Run consumes events until ctx is done. Failing to subscribe the first time
// is returned; later stream drops are retried with exponential backoff.
func (i *Ingestor) Run(ctx context.Context) error {
	cp, err := i.checkpoints.Load()
	if err != nil {
		return err
	}
	events, err := i.source.ChaincodeEvents(ctx, cp)
	if err != nil {
		return fmt.Errorf("subscribe to ledger events: %w", err)
	}
	i.logger.Info().Interface("checkpoint", cp).Msg("ledger event ingestion started")

	for {
		cp = i.drain(ctx, events, cp)
		if ctx.Err() != nil {
			return nil
		}
		i.logger.Warn().Msg("ledger event stream closed, reconnecting")

		events, err = i.resubscribe(ctx, cp)
		if err != nil {
			return nil
		}
	}
}

// resubscribe retries until it gets a stream or ctx is done.
func (i *Ingestor) resubscribe(ctx context.Context, cp *ledger.Checkpoint) (<-chan ledger.Event, error) {
	delay := i.minBackoff
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		events, err := i.source.ChaincodeEvents(ctx, cp)
		if err == nil {
			i.logger.Info().Msg("ledger event stream reconnected")
			return events, nil
		}
		i.logger.Warn().Err(err).Dur("retry_in", delay).Msg("ledger event subscribe failed")
		delay *= 2
		if delay > i.maxBackoff {
			delay = i.maxBackoff
		}
	}
}

func (i *Ingestor) drain(ctx context.Context, events <-chan ledger.Event, cp *ledger.Checkpoint) *ledger.Checkpoint {
	for {
		select {
		case <-ctx.Done():
			return cp
		case ev, ok := <-events:
			if !ok {
				return cp
			}
			i.handle(ctx, ev)
			cp = &ledger.Checkpoint{Block: ev.BlockNumber, TxID: ev.TxID}
			if err := i.checkpoints.Save(*cp); err != nil {
				i.logger.Error().Err(err).Uint64("block", ev.BlockNumber).Msg("checkpoint not saved")
			}
		}
	}
}

// handle writes and publishes one event. A failure is logged and never
// stops the stream.
func (i *Ingestor) handle(ctx context.Context, ev ledger.Event) {
	log := i.logger.With().Str("event", ev.Name).Str("tx_id", ev.TxID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("event handler panicked")
		}
	}()

	if !ev.Known() {
		log.Debug().Msg("ignoring unknown event")
		return
	}
	entry, err := i.entry(ctx, ev)
	if err != nil {
		log.Warn().Err(err).Msg("event skipped")
		return
	}
	if err := i.repo.Insert(ctx, entry); err != nil {
		log.Error().Err(err).Msg("admin log not written")
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("marshal admin log entry")
		return
	}
	if err := i.publisher.Publish(ctx, websocket.Event{Type: ev.Name, Topic: Topic, Data: payload}); err != nil {
		log.Warn().Err(err).Msg("admin log entry not published")
	}
}

func (i *Ingestor) entry(ctx context.Context, ev ledger.Event) (*Entry, error) {
	p, err := ev.Decode()
	if err != nil {
		return nil, err
	}
	d := Data{
		RecordCode:    ledger.Text(p.RecordCode),
		PatientCode:   ledger.Text(p.PatientCode),
		RecordHash:    p.RecordHash,
		AccessGranted: p.AccessGranted,
		Timestamp:     p.Time(),
	}
	if p.Timestamp == 0 {
		d.Timestamp = time.Now().UTC()
	}

	switch ev.Name {
	case ledger.EventRecordAdded, ledger.EventRecordUpdated:
		d.Wallet = p.Doctor
		i.resolve(&d, func() (*identity.Doctor, error) { return i.doctors.DoctorByWallet(ctx, p.Doctor) })
	case ledger.EventAccessGranted, ledger.EventAccessRevoked, ledger.EventAccessAttempt:
		code := ledger.Text(p.DoctorCode)
		i.resolve(&d, func() (*identity.Doctor, error) { return i.doctors.DoctorByCode(ctx, code) })
	case ledger.EventRecordHashUpdatedByAdmin:
		d.Wallet = p.Wallet
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	e := &Entry{Event: ev.Name, Data: data}
	block := int64(ev.BlockNumber)
	e.BlockNumber = &block
	if ev.TxID != "" {
		txID := ev.TxID
		e.TxID = &txID
	}
	return e, nil
}

// resolve fills the doctor fields, falling back to the unknown placeholder.
func (i *Ingestor) resolve(d *Data, lookup func() (*identity.Doctor, error)) {
	doc, err := lookup()
	if err != nil || doc == nil {
		d.DoctorCode, d.DoctorName = unknown, unknown
		return
	}
	d.DoctorCode, d.DoctorName = doc.DoctorCode, doc.Fullname
}
