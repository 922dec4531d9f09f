// Package ledger is the durable trade audit store: an append-only-by-id
// JSON file of trade records, persisted synchronously on every mutation.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/meanrev/pairsbot/pkg/models"
)

var (
	ErrNotFound     = errors.New("ledger: trade not found")
	ErrDuplicateID  = errors.New("ledger: trade id already exists")
	ErrNotEntered   = errors.New("ledger: trade is not in ENTERED status")
	ErrAlreadyFinal = errors.New("ledger: trade already finalized")
)

// Ledger keeps all trade records in memory and rewrites the backing file
// atomically (temp file + rename) on each mutation, so a crash loses at
// most the in-flight mutation and never prior history.
type Ledger struct {
	mu     sync.Mutex
	path   string
	trades []models.TradeRecord
	logger *logrus.Logger
}

// Open loads existing records from path, creating the directory if
// needed. A missing file is an empty ledger, matching prior audit runs.
func Open(path string, logger *logrus.Logger) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	l := &Ledger{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger file: %w", err)
	}
	if err := json.Unmarshal(data, &l.trades); err != nil {
		return nil, fmt.Errorf("parsing ledger file: %w", err)
	}
	return l, nil
}

// Create appends a new trade record with status ENTERED.
func (l *Ledger) Create(record models.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOf(record.TradeID) >= 0 {
		return ErrDuplicateID
	}
	record.Status = models.TradeStatusEntered
	if record.Orders == nil {
		record.Orders = []models.OrderLogEntry{}
	}
	l.trades = append(l.trades, record)
	if err := l.persist(); err != nil {
		l.trades = l.trades[:len(l.trades)-1]
		return err
	}
	l.logger.WithField("trade_id", record.TradeID).Info("Trade entry logged")
	return nil
}

// AppendOrder attaches a leg order to an open trade. Only legal while the
// record is still ENTERED.
func (l *Ledger) AppendOrder(tradeID string, order models.OrderLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(tradeID)
	if i < 0 {
		return ErrNotFound
	}
	if l.trades[i].Status != models.TradeStatusEntered {
		return ErrNotEntered
	}
	l.trades[i].Orders = append(l.trades[i].Orders, order)
	if err := l.persist(); err != nil {
		l.trades[i].Orders = l.trades[i].Orders[:len(l.trades[i].Orders)-1]
		return err
	}
	return nil
}

// Finalize closes a trade exactly once, recording the exit market state
// and the reconciled PnL, and transitions the record to COMPLETED.
func (l *Ledger) Finalize(tradeID string, exit models.ExitData, pnl models.PnLAnalysis) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(tradeID)
	if i < 0 {
		return ErrNotFound
	}
	if l.trades[i].Status == models.TradeStatusCompleted {
		return ErrAlreadyFinal
	}
	prev := l.trades[i]
	l.trades[i].Status = models.TradeStatusCompleted
	l.trades[i].ExitData = &exit
	l.trades[i].PnLAnalysis = &pnl
	if err := l.persist(); err != nil {
		l.trades[i] = prev
		return err
	}
	l.logger.WithFields(logrus.Fields{
		"trade_id":  tradeID,
		"total_pnl": pnl.TotalPnL,
		"reason":    exit.Reason,
	}).Info("Trade exit logged")
	return nil
}

// Get returns a copy of one record.
func (l *Ledger) Get(tradeID string) (models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(tradeID)
	if i < 0 {
		return models.TradeRecord{}, ErrNotFound
	}
	return cloneRecord(l.trades[i]), nil
}

// All returns a copy of every record in insertion order.
func (l *Ledger) All() []models.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.TradeRecord, len(l.trades))
	for i, t := range l.trades {
		out[i] = cloneRecord(t)
	}
	return out
}

// Last returns up to n most recent records, oldest first.
func (l *Ledger) Last(n int) []models.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := len(l.trades) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.TradeRecord, 0, len(l.trades)-start)
	for _, t := range l.trades[start:] {
		out = append(out, cloneRecord(t))
	}
	return out
}

func (l *Ledger) indexOf(tradeID string) int {
	for i := range l.trades {
		if l.trades[i].TradeID == tradeID {
			return i
		}
	}
	return -1
}

// persist rewrites the whole file through a temp file and rename, so a
// concurrent reader never observes a partial write.
func (l *Ledger) persist() error {
	data, err := json.MarshalIndent(l.trades, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing ledger file: %w", err)
	}
	return nil
}

func cloneRecord(r models.TradeRecord) models.TradeRecord {
	out := r
	out.Orders = append([]models.OrderLogEntry(nil), r.Orders...)
	if r.ExitData != nil {
		exit := *r.ExitData
		out.ExitData = &exit
	}
	if r.PnLAnalysis != nil {
		pnl := *r.PnLAnalysis
		out.PnLAnalysis = &pnl
	}
	return out
}
