package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrDeclined           = errors.New("payment declined")
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// Info is what the client hands over to pay for a hold.
type Info struct {
	Method string `json:"method"`
	Token  string `json:"token"`
}

type Charge struct {
	Reference string // hold id, used as idempotency key
	Amount    int64
	Info      Info
}

type Receipt struct {
	TransactionID string
	Amount        int64
}

// Gateway is the payment collaborator. Charge must be idempotent per Reference.
type Gateway interface {
	Charge(ctx context.Context, charge Charge) (Receipt, error)
	Void(ctx context.Context, transactionID string) error
}

// Static approves every charge except tokens starting with declinePrefix.
// It stands in for a real processor in development and tests.
type Static struct {
	declinePrefix string

	mu     sync.Mutex
	byRef  map[string]Receipt
	voided map[string]bool
}

func NewStatic(declinePrefix string) *Static {
	return &Static{
		declinePrefix: declinePrefix,
		byRef:         make(map[string]Receipt),
		voided:        make(map[string]bool),
	}
}

func (s *Static) Charge(ctx context.Context, charge Charge) (Receipt, error) {
	if charge.Amount < 0 {
		return Receipt{}, fmt.Errorf("%w: negative amount", ErrDeclined)
	}
	if s.declinePrefix != "" && strings.HasPrefix(charge.Info.Token, s.declinePrefix) {
		return Receipt{}, ErrDeclined
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt, ok := s.byRef[charge.Reference]; ok && !s.voided[receipt.TransactionID] {
		return receipt, nil
	}
	receipt := Receipt{TransactionID: "txn_" + uuid.NewString(), Amount: charge.Amount}
	s.byRef[charge.Reference] = receipt

	logrus.WithFields(logrus.Fields{
		"reference":      charge.Reference,
		"amount":         charge.Amount,
		"method":         charge.Info.Method,
		"transaction_id": receipt.TransactionID,
	}).Info("Payment charged")
	return receipt, nil
}

func (s *Static) Void(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, receipt := range s.byRef {
		if receipt.TransactionID == transactionID {
			s.voided[transactionID] = true
			logrus.WithField("transaction_id", transactionID).Info("Payment voided")
			return nil
		}
	}
	return ErrUnknownTransaction
}

// Voided reports whether a transaction was voided.
func (s *Static) Voided(transactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voided[transactionID]
}
