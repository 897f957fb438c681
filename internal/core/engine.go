package core

import (
	"fmt"
	"sync"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/external"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output is what one committed operation hands downstream: the event envelope
// plus every ledger record the operation touched.
type Output struct {
	Envelope *event.Envelope

	// Dirty records after the operation. Persistence upserts them; a record
	// absent here was not touched.
	Accounts []vault.VaultAccount
	States   []vault.VaultState
}

// Engine is the vault risk and accounting core. All commands are synchronous:
// validate, call out, finalize in memory, then hand the result to the persist
// and outbound channels. State mutates only after every validation passed, so
// a rejected command leaves the ledgers untouched.
//
// The engine never reads the wall clock for ledger state; every command
// carries the block time that drives it.
type Engine struct {
	registry *vault.Registry
	states   *vault.StateStore
	accounts *vault.AccountStore

	amm       external.Amm
	rates     external.RateConverter
	strategy  external.Strategy
	insurance external.Insurance

	logger  zerolog.Logger
	metrics *observability.Metrics

	// Persistence: blocking send, backpressure stalls the engine so no
	// committed operation is lost. Outbound: non-blocking send with drop;
	// consumers rebuild from the durable event log if they fall behind.
	persistChan  chan<- Output
	outboundChan chan<- Output

	sequence int64

	// mu guards the stores, the sequence and the in-flight sets. It is NOT
	// held across external calls; the in-flight sets serialize commands per
	// vault and per account instead, so a strategy or AMM callout can never
	// observe or reenter a half-applied operation.
	mu              sync.Mutex
	inFlightVaults  map[string]bool
	inFlightAccount map[uuid.UUID]bool
}

func NewEngine(
	registry *vault.Registry,
	states *vault.StateStore,
	accounts *vault.AccountStore,
	amm external.Amm,
	rates external.RateConverter,
	strategy external.Strategy,
	insurance external.Insurance,
	startSequence int64,
	persistChan, outboundChan chan<- Output,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		registry:     registry,
		states:       states,
		accounts:     accounts,
		amm:          amm,
		rates:        rates,
		strategy:     strategy,
		insurance:    insurance,
		logger:       observability.NewLogger("core"),
		metrics:      metrics,
		persistChan:  persistChan,
		outboundChan: outboundChan,
		sequence:     startSequence,
	}
}

// beginOp marks the vault and the given accounts as having a command in
// flight. A second command against a busy vault or account is rejected, not
// queued: the caller retries.
func (e *Engine) beginOp(vaultID string, accounts ...uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlightVaults == nil {
		e.inFlightVaults = make(map[string]bool)
		e.inFlightAccount = make(map[uuid.UUID]bool)
	}
	if e.inFlightVaults[vaultID] {
		return fmt.Errorf("%w: vault %s", ErrAccountBusy, vaultID)
	}
	for _, id := range accounts {
		if e.inFlightAccount[id] {
			return fmt.Errorf("%w: %s", ErrAccountBusy, id)
		}
	}
	e.inFlightVaults[vaultID] = true
	for _, id := range accounts {
		e.inFlightAccount[id] = true
	}
	return nil
}

func (e *Engine) endOp(vaultID string, accounts ...uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlightVaults, vaultID)
	for _, id := range accounts {
		delete(e.inFlightAccount, id)
	}
}

// commit validates and stores the given records under the engine lock. All
// records must pass validation or none are written.
func (e *Engine) commit(accounts []vault.VaultAccount, states []vault.VaultState) error {
	for i := range accounts {
		if err := accounts[i].Validate(); err != nil {
			return err
		}
	}
	for i := range states {
		if err := states[i].Validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range accounts {
		if err := e.accounts.Put(a); err != nil {
			return err
		}
	}
	for _, s := range states {
		if err := e.states.Put(s); err != nil {
			return err
		}
		e.updateVaultGauges(s)
	}
	return nil
}

// emit assigns the next sequence, stamps the envelope and fans the output out
// to persistence (blocking) and outbound consumers (non-blocking).
func (e *Engine) emit(
	eventType event.EventType,
	vaultID string,
	accountID *uuid.UUID,
	blockTime int64,
	payload any,
	accounts []vault.VaultAccount,
	states []vault.VaultState,
) {
	e.mu.Lock()
	seq := e.sequence
	e.sequence++
	e.mu.Unlock()

	out := Output{
		Envelope: &event.Envelope{
			Sequence:  seq,
			EventType: eventType,
			VaultID:   vaultID,
			AccountID: accountID,
			Timestamp: time.Unix(blockTime, 0).UTC(),
			Payload:   payload,
		},
		Accounts: accounts,
		States:   states,
	}

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.outboundChan != nil {
		select {
		case e.outboundChan <- out:
		default:
			// Dropped; outbound consumers rebuild from the event log.
			if e.metrics != nil {
				e.metrics.OutboundDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.EventsEmitted.WithLabelValues(eventType.String()).Inc()
		e.metrics.EngineSequence.Set(float64(seq + 1))
	}
}

// observeOp records per-operation metrics. start is wall-clock; it times the
// operation, it never enters ledger state.
func (e *Engine) observeOp(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(op).Inc()
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// updateVaultGauges refreshes the exported aggregates for one vault maturity.
func (e *Engine) updateVaultGauges(s vault.VaultState) {
	if e.metrics == nil {
		return
	}
	maturity := fmt.Sprintf("%d", s.Maturity)
	if s.Maturity == vault.PrimeMaturity {
		maturity = "prime"
	}
	e.metrics.VaultTotalDebt.WithLabelValues(s.VaultID, maturity).Set(float64(-s.TotalDebtUnderlying))
	e.metrics.VaultTotalShares.WithLabelValues(s.VaultID, maturity).Set(float64(s.TotalVaultShares))
}

// config resolves a vault configuration.
func (e *Engine) config(vaultID string) (vault.VaultConfig, error) {
	cfg, ok := e.registry.Get(vaultID)
	if !ok {
		return vault.VaultConfig{}, fmt.Errorf("%w: %s", ErrUnknownVault, vaultID)
	}
	return cfg, nil
}

// Account returns the current position for (account, vault).
func (e *Engine) Account(accountID uuid.UUID, vaultID string) vault.VaultAccount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accounts.Get(accountID, vaultID)
}

// State returns the current aggregate for (vault, maturity).
func (e *Engine) State(vaultID string, maturity int64) vault.VaultState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states.Get(vaultID, maturity)
}

// AccountHealth values a position at the given block time.
func (e *Engine) AccountHealth(accountID uuid.UUID, vaultID string, blockTime int64) (vault.HealthFactors, error) {
	cfg, err := e.config(vaultID)
	if err != nil {
		return vault.HealthFactors{}, err
	}
	acct := e.Account(accountID, vaultID)
	return vault.AccountHealth(&cfg, &acct, e.rates, e.amm, e.strategy, blockTime)
}

// Sequence returns the next sequence the engine will assign.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// Restore loads ledger records on warm start, before the engine serves
// commands.
func (e *Engine) Restore(accounts []vault.VaultAccount, states []vault.VaultState, nextSequence int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range accounts {
		e.accounts.Restore(a)
	}
	for _, s := range states {
		e.states.Restore(s)
	}
	e.sequence = nextSequence
}

// Snapshot copies the full in-memory ledger state.
func (e *Engine) Snapshot() ([]vault.VaultAccount, []vault.VaultState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accounts.Snapshot(), e.states.Snapshot()
}
