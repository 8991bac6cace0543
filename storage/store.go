package storage

import (
	"context"

	"cartas/configs"

	"github.com/pkg/errors"
)

// AdjustResult classifies the outcome of a guarded stock adjustment.
// Insufficient means the business rule said no; Contended means the CAS
// retry budget ran out and the caller may try again with a fresh txn.
type AdjustResult uint8

const (
	AdjustOK AdjustResult = iota
	AdjustInsufficient
	AdjustContended
	AdjustAborted
)

func (r AdjustResult) String() string {
	switch r {
	case AdjustOK:
		return "ok"
	case AdjustInsufficient:
		return "insufficient"
	case AdjustContended:
		return "contended"
	case AdjustAborted:
		return "aborted"
	}
	return "unknown"
}

// Motivo maps the adjustment outcome to the vote message the peers expect.
func (r AdjustResult) Motivo() string {
	switch r {
	case AdjustInsufficient:
		return configs.MotivoEstoqueEsgotado
	case AdjustContended:
		return configs.MotivoEstoqueContencao
	}
	return ""
}

// Store is the coordination store every node shares. All game state lives
// here; nodes keep only in-flight transaction branches locally, so any
// node can serve any player and a restarted node resynchronizes from the
// store alone.
type Store interface {
	// Bootstrap creates the global stock if and only if it is absent, so
	// the first node up seeds it and later nodes leave it untouched.
	Bootstrap(ctx context.Context) error

	GetStock(ctx context.Context) (*EstoqueGlobal, error)
	SetStock(ctx context.Context, est *EstoqueGlobal) error
	// AtomicAdjustStock applies delta to the stock iff the result stays
	// non-negative, retrying on write conflicts up to the budget.
	AtomicAdjustStock(ctx context.Context, delta int) (AdjustResult, error)

	// ReserveStock debits qty from the stock at most once per transaction.
	// A replay of the same txID is a no-op returning AdjustOK; a reserve
	// arriving after ReleaseStock already ran for the txID is refused.
	ReserveStock(ctx context.Context, idTransacao string, qty int) (AdjustResult, error)
	// ReleaseStock returns a prior reservation to the stock at most once.
	ReleaseStock(ctx context.Context, idTransacao string, qty int) error

	// GetInventory returns nil without error when the player is unknown.
	GetInventory(ctx context.Context, idJogador string) (*Inventario, error)
	SetInventory(ctx context.Context, inv *Inventario) error
	// AtomicAdjustPacks applies delta to the player's pack credit iff the
	// inventory exists and the result stays non-negative. Concurrent
	// debits of the same credit cannot both succeed.
	AtomicAdjustPacks(ctx context.Context, idJogador string, delta int) (AdjustResult, error)

	// AcquireInventoryLock takes the per-player lock token for a
	// transaction. Re-acquiring for the same txID succeeds.
	AcquireInventoryLock(ctx context.Context, idJogador, idTransacao string) (bool, error)
	// ReleaseInventoryLock drops the token iff idTransacao still owns it.
	ReleaseInventoryLock(ctx context.Context, idJogador, idTransacao string) error

	GetTxn(ctx context.Context, idTransacao string) (*Transacao2PC, error)
	SetTxn(ctx context.Context, tx *Transacao2PC) error
	// CasTxnStatus flips the record's status iff it still reads de. False
	// without error means the record is gone or already decided otherwise.
	CasTxnStatus(ctx context.Context, idTransacao, de, para string) (bool, error)
	DeleteTxn(ctx context.Context, idTransacao string) error
	// PendingTxns lists every transaction record still in the store, in
	// no particular order. The recovery sweeper drives itself off this.
	PendingTxns(ctx context.Context) ([]*Transacao2PC, error)

	Publish(ctx context.Context, canal string, payload []byte) error
	// Subscribe delivers messages on the channel to handler from a
	// background goroutine until the returned cancel runs or ctx ends.
	Subscribe(ctx context.Context, canal string, handler func(canal string, payload []byte)) (func(), error)

	Close() error
}

// NewStore builds the backend selected by configs.Armazenamento.
func NewStore(ctx context.Context) (Store, error) {
	switch configs.Armazenamento {
	case configs.StoreRedis:
		return NewRedisStore(ctx, configs.RedisAddr())
	case configs.StorePostgres:
		return NewPostgresStore(ctx, configs.PostgresURL)
	case configs.StoreMemory:
		return NewMemoryStore(), nil
	}
	return nil, errors.Errorf("armazenamento desconhecido: %q", configs.Armazenamento)
}

func chaveInventario(idJogador string) string {
	return configs.KeyPrefixInventario + idJogador
}

func chaveTransacao(id string) string {
	return configs.KeyPrefixTransacao + id
}

func chaveReserva(id string) string {
	return configs.KeyPrefixReserva + id
}

func chaveDevolucao(id string) string {
	return configs.KeyPrefixDevolucao + id
}

func chaveTrava(idJogador string) string {
	return configs.KeyPrefixTrava + idJogador
}
