package coordinator

import (
	"context"
	"strings"
	"time"

	"cartas/configs"
	"cartas/network"
	"cartas/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Client-facing failure classes. The HTTP layer maps them to status codes.
var (
	ErrJogadorDesconhecido = errors.New("jogador nao encontrado")
	ErrSemPacotes          = errors.New("o jogador nao possui pacotes disponiveis para abrir")
	ErrEstoqueEsgotado     = errors.New(configs.MotivoEstoqueEsgotado)
	ErrCartaAusente        = errors.New(configs.MotivoCartaAusente)
	ErrTransacaoAbortada   = errors.New("transacao 2pc abortada")
)

// AbrirPacote runs the pack opening end to end: debit the player's pack
// credit, drive 2PC over the mesh, and either hand back the refreshed
// inventory or roll the credit back.
func (c *Manager) AbrirPacote(ctx context.Context, idJogador string, quantidade int) (*storage.Inventario, error) {
	// The operation outlives the client: a dropped connection must not
	// cancel the debit, the protocol, or the rollback midway. Every step
	// below is bounded by its own timeout.
	ctx = context.WithoutCancel(ctx)
	inv, err := c.store.GetInventory(ctx, idJogador)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrJogadorDesconhecido
	}
	if inv.PacotesDisponiveis < quantidade {
		return nil, ErrSemPacotes
	}

	idDebito, err := c.journal.RegistrarDebito(idJogador, quantidade)
	if err != nil {
		return nil, err
	}
	// Conditional decrement inside the store: two coordinators racing the
	// same credit cannot both spend it.
	res, err := c.store.AtomicAdjustPacks(ctx, idJogador, -quantidade)
	if err != nil || res != storage.AdjustOK {
		if jerr := c.journal.RegistrarResolucao(idDebito); jerr != nil {
			configs.Warn(false, "journal: "+jerr.Error())
		}
		if err != nil {
			return nil, err
		}
		if res == storage.AdjustInsufficient {
			return nil, ErrSemPacotes
		}
		return nil, errors.Errorf("debito de pacotes de %s: %s", idJogador, res)
	}

	ok, motivo := c.submitComRetry(ctx, func(idTransacao string) *storage.Transacao2PC {
		return &storage.Transacao2PC{
			IDTransacao:    idTransacao,
			CoordenadorURL: c.urlLocal,
			TipoOperacao:   configs.OpAbrirPacote,
			AbrirPacote:    &storage.DadosAbrirPacote{IDJogador: idJogador, QuantidadePacotes: quantidade},
		}
	})
	if !ok {
		if rerr := c.restaurarPacotes(ctx, idJogador, quantidade); rerr != nil {
			configs.Warn(false, "falha restaurando pacotes de "+idJogador+": "+rerr.Error())
		}
		if jerr := c.journal.RegistrarResolucao(idDebito); jerr != nil {
			configs.Warn(false, "journal: "+jerr.Error())
		}
		return nil, abortError(motivo)
	}

	if err := c.journal.RegistrarResolucao(idDebito); err != nil {
		configs.Warn(false, "journal: "+err.Error())
	}
	return c.store.GetInventory(ctx, idJogador)
}

// TrocaCartas drives a card trade between any two players of the mesh.
func (c *Manager) TrocaCartas(ctx context.Context, dados *storage.DadosTroca) error {
	ctx = context.WithoutCancel(ctx)
	for _, j := range []string{dados.IDJogadorA, dados.IDJogadorB} {
		inv, err := c.store.GetInventory(ctx, j)
		if err != nil {
			return err
		}
		if inv == nil {
			return ErrJogadorDesconhecido
		}
	}
	cp := *dados
	ok, motivo := c.submitComRetry(ctx, func(idTransacao string) *storage.Transacao2PC {
		return &storage.Transacao2PC{
			IDTransacao:    idTransacao,
			CoordenadorURL: c.urlLocal,
			TipoOperacao:   configs.OpTrocaCartas,
			Troca:          &cp,
		}
	})
	if !ok {
		return abortError(motivo)
	}
	return nil
}

// submitComRetry runs Submit, retrying pure concurrency aborts with a
// fresh transaction id and an exponential penalty. Business aborts (no
// stock, missing card) return immediately.
func (c *Manager) submitComRetry(ctx context.Context, build func(idTransacao string) *storage.Transacao2PC) (bool, string) {
	penalty := configs.InitPenalty4Abort
	var motivo string
	for tentativa := 0; tentativa < configs.MaxRetry; tentativa++ {
		var ok bool
		ok, motivo = c.Submit(ctx, build(uuid.NewString()))
		if ok || !retryable(motivo) {
			return ok, motivo
		}
		select {
		case <-ctx.Done():
			return false, motivo
		case <-time.After(penalty):
		}
		penalty *= 2
	}
	return false, motivo
}

func retryable(motivo string) bool {
	return motivo == configs.MotivoEstoqueContencao ||
		motivo == configs.MotivoInventarioBloqueado
}

func abortError(motivo string) error {
	switch {
	case motivo == configs.MotivoEstoqueEsgotado:
		return ErrEstoqueEsgotado
	case strings.HasPrefix(motivo, configs.MotivoCartaAusente):
		return errors.Wrap(ErrCartaAusente, motivo)
	case motivo == "":
		return ErrTransacaoAbortada
	}
	return errors.Wrap(ErrTransacaoAbortada, motivo)
}

// Submit runs one 2PC round for the transaction. The returned motivo is
// the first abort reason when the outcome is an abort.
//
// The write of the decided status to the coordination store is the commit
// point. The local branch is decided synchronously so the client's reply
// reflects the final state; remote branches and record cleanup happen in
// the background, with the recovery sweeper covering missed deliveries.
func (c *Manager) Submit(ctx context.Context, tx *storage.Transacao2PC) (bool, string) {
	// Once the record is written the protocol runs on its own lifetime;
	// the caller hanging up must not turn yes votes into an abort.
	ctx = context.WithoutCancel(ctx)
	tx.Status = configs.StatusPreparing
	tx.CriadaEm = time.Now().UTC()
	if err := c.store.SetTxn(ctx, tx); err != nil {
		return false, err.Error()
	}
	configs.TxnPrint(tx.IDTransacao, "coordenando %s", tx.TipoOperacao)

	handler := newTxnHandler(len(c.peers))
	for _, peer := range c.peers {
		go func(peer string) {
			voto, err := c.conn.SendPrepare(ctx, peer, tx)
			if err != nil {
				configs.Warn(false, "prepare em "+peer+": "+err.Error())
				handler.HandleVote(peer, nil)
				return
			}
			handler.HandleVote(peer, voto)
		}(peer)
	}
	commit := handler.Wait(configs.PeerCallTimeout + time.Second)

	if commit {
		tx.Status = configs.StatusCommitted
	} else {
		tx.Status = configs.StatusAborted
	}
	if err := c.store.SetTxn(ctx, tx); err != nil {
		// The decision could not be recorded; peers will presume abort.
		configs.Warn(false, "gravando decisao de "+tx.IDTransacao+": "+err.Error())
		return false, err.Error()
	}
	configs.TxnPrint(tx.IDTransacao, "decisao %s", tx.Status)

	if err := c.local.Decide(ctx, network.NewResultado(tx, c.urlLocal, commit)); err != nil {
		configs.Warn(false, "decide local de "+tx.IDTransacao+": "+err.Error())
	}
	go c.finalize(tx, commit)
	return commit, handler.Motivo()
}

// finalize pushes the decision to the remote peers and deletes the record
// once every branch has acknowledged. Undelivered decisions leave the
// record in place for the sweepers to finish.
func (c *Manager) finalize(tx *storage.Transacao2PC, commit bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*configs.DecideCallTimeout)
	defer cancel()

	res := network.NewResultado(tx, c.urlLocal, commit)
	acks := 1 // local branch decided synchronously
	type resposta struct{ err error }
	respostas := make(chan resposta, len(c.peers))
	remotos := 0
	for _, peer := range c.peers {
		if peer == c.urlLocal {
			continue
		}
		remotos++
		go func(peer string) {
			respostas <- resposta{c.conn.SendDecide(ctx, peer, tx.TipoOperacao, res)}
		}(peer)
	}
	for i := 0; i < remotos; i++ {
		r := <-respostas
		if r.err != nil {
			configs.Warn(false, "decide de "+tx.IDTransacao+" sem ack: "+r.err.Error())
			continue
		}
		acks++
	}
	if acks == len(c.peers) {
		if err := c.store.DeleteTxn(ctx, tx.IDTransacao); err != nil {
			configs.Warn(false, "removendo registro de "+tx.IDTransacao+": "+err.Error())
		}
		configs.TxnPrint(tx.IDTransacao, "registro removido apos %d acks", acks)
	}
}

// restaurarPacotes undoes the pre-2PC pack debit after an abort.
func (c *Manager) restaurarPacotes(ctx context.Context, idJogador string, quantidade int) error {
	res, err := c.store.AtomicAdjustPacks(ctx, idJogador, quantidade)
	if err != nil {
		return err
	}
	if res != storage.AdjustOK {
		return errors.Errorf("credito de pacotes de %s nao restaurado: %s", idJogador, res)
	}
	return nil
}
