package storage

import (
	"context"
	"strings"

	"cartas/configs"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

// PostgresStore keeps the coordination state in a single PostgreSQL
// database: the stock in a one-row table updated with a conditional
// UPDATE, inventories and transaction records as jsonb, markers and lock
// tokens in a keyed table, and pub/sub over LISTEN/NOTIFY.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS estoque_global (
		id SMALLINT PRIMARY KEY,
		pacotes_restantes INT NOT NULL CHECK (pacotes_restantes >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS inventario (
		id_jogador TEXT PRIMARY KEY,
		dados JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transacao_2pc (
		id_transacao TEXT PRIMARY KEY,
		dados JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS marcador (
		chave TEXT PRIMARY KEY,
		valor TEXT NOT NULL
	)`,
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres inacessivel")
	}
	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "criando esquema")
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (c *PostgresStore) Bootstrap(ctx context.Context) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO estoque_global (id, pacotes_restantes) VALUES (1, $1)
		 ON CONFLICT (id) DO NOTHING`, configs.EstoqueInicial)
	return err
}

func (c *PostgresStore) GetStock(ctx context.Context) (*EstoqueGlobal, error) {
	est := &EstoqueGlobal{}
	err := c.pool.QueryRow(ctx,
		`SELECT pacotes_restantes FROM estoque_global WHERE id = 1`).
		Scan(&est.PacotesRestantes)
	if err == pgx.ErrNoRows {
		return nil, errors.New("estoque_global ausente")
	}
	if err != nil {
		return nil, err
	}
	return est, nil
}

func (c *PostgresStore) SetStock(ctx context.Context, est *EstoqueGlobal) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO estoque_global (id, pacotes_restantes) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET pacotes_restantes = EXCLUDED.pacotes_restantes`,
		est.PacotesRestantes)
	return err
}

func (c *PostgresStore) AtomicAdjustStock(ctx context.Context, delta int) (AdjustResult, error) {
	tag, err := c.pool.Exec(ctx,
		`UPDATE estoque_global SET pacotes_restantes = pacotes_restantes + $1
		 WHERE id = 1 AND pacotes_restantes + $1 >= 0`, delta)
	if err != nil {
		return AdjustContended, err
	}
	if tag.RowsAffected() == 0 {
		return AdjustInsufficient, nil
	}
	return AdjustOK, nil
}

func (c *PostgresStore) ReserveStock(ctx context.Context, idTransacao string, qty int) (AdjustResult, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return AdjustContended, err
	}
	defer tx.Rollback(ctx)

	var existe int
	err = tx.QueryRow(ctx, `SELECT 1 FROM marcador WHERE chave = $1`,
		chaveDevolucao(idTransacao)).Scan(&existe)
	if err == nil {
		return AdjustAborted, nil
	}
	if err != pgx.ErrNoRows {
		return AdjustContended, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO marcador (chave, valor) VALUES ($1, $2) ON CONFLICT (chave) DO NOTHING`,
		chaveReserva(idTransacao), "1")
	if err != nil {
		return AdjustContended, err
	}
	if tag.RowsAffected() == 0 {
		return AdjustOK, tx.Commit(ctx)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE estoque_global SET pacotes_restantes = pacotes_restantes - $1
		 WHERE id = 1 AND pacotes_restantes - $1 >= 0`, qty)
	if err != nil {
		return AdjustContended, err
	}
	if tag.RowsAffected() == 0 {
		return AdjustInsufficient, nil
	}
	return AdjustOK, tx.Commit(ctx)
}

func (c *PostgresStore) ReleaseStock(ctx context.Context, idTransacao string, qty int) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO marcador (chave, valor) VALUES ($1, $2) ON CONFLICT (chave) DO NOTHING`,
		chaveDevolucao(idTransacao), "1")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	var existe int
	err = tx.QueryRow(ctx, `SELECT 1 FROM marcador WHERE chave = $1`,
		chaveReserva(idTransacao)).Scan(&existe)
	if err == pgx.ErrNoRows {
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE estoque_global SET pacotes_restantes = pacotes_restantes + $1 WHERE id = 1`,
		qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *PostgresStore) GetInventory(ctx context.Context, idJogador string) (*Inventario, error) {
	var raw []byte
	err := c.pool.QueryRow(ctx,
		`SELECT dados FROM inventario WHERE id_jogador = $1`, idJogador).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv := &Inventario{}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (c *PostgresStore) SetInventory(ctx context.Context, inv *Inventario) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO inventario (id_jogador, dados) VALUES ($1, $2)
		 ON CONFLICT (id_jogador) DO UPDATE SET dados = EXCLUDED.dados`,
		inv.IDJogador, raw)
	return err
}

func (c *PostgresStore) AtomicAdjustPacks(ctx context.Context, idJogador string, delta int) (AdjustResult, error) {
	tag, err := c.pool.Exec(ctx,
		`UPDATE inventario
		 SET dados = jsonb_set(dados, '{pacotes_disponiveis}',
		     to_jsonb((dados->>'pacotes_disponiveis')::int + $2))
		 WHERE id_jogador = $1 AND (dados->>'pacotes_disponiveis')::int + $2 >= 0`,
		idJogador, delta)
	if err != nil {
		return AdjustContended, err
	}
	if tag.RowsAffected() == 0 {
		return AdjustInsufficient, nil
	}
	return AdjustOK, nil
}

func (c *PostgresStore) AcquireInventoryLock(ctx context.Context, idJogador, idTransacao string) (bool, error) {
	tag, err := c.pool.Exec(ctx,
		`INSERT INTO marcador (chave, valor) VALUES ($1, $2) ON CONFLICT (chave) DO NOTHING`,
		chaveTrava(idJogador), idTransacao)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var dono string
	err = c.pool.QueryRow(ctx,
		`SELECT valor FROM marcador WHERE chave = $1`, chaveTrava(idJogador)).Scan(&dono)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dono == idTransacao, nil
}

func (c *PostgresStore) ReleaseInventoryLock(ctx context.Context, idJogador, idTransacao string) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM marcador WHERE chave = $1 AND valor = $2`,
		chaveTrava(idJogador), idTransacao)
	return err
}

func (c *PostgresStore) GetTxn(ctx context.Context, idTransacao string) (*Transacao2PC, error) {
	var raw []byte
	err := c.pool.QueryRow(ctx,
		`SELECT dados FROM transacao_2pc WHERE id_transacao = $1`, idTransacao).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx := &Transacao2PC{}
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *PostgresStore) SetTxn(ctx context.Context, tx *Transacao2PC) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO transacao_2pc (id_transacao, dados) VALUES ($1, $2)
		 ON CONFLICT (id_transacao) DO UPDATE SET dados = EXCLUDED.dados`,
		tx.IDTransacao, raw)
	return err
}

func (c *PostgresStore) CasTxnStatus(ctx context.Context, idTransacao, de, para string) (bool, error) {
	tag, err := c.pool.Exec(ctx,
		`UPDATE transacao_2pc
		 SET dados = jsonb_set(dados, '{status}', to_jsonb($3::text))
		 WHERE id_transacao = $1 AND dados->>'status' = $2`,
		idTransacao, de, para)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (c *PostgresStore) DeleteTxn(ctx context.Context, idTransacao string) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM transacao_2pc WHERE id_transacao = $1`, idTransacao)
	return err
}

func (c *PostgresStore) PendingTxns(ctx context.Context) ([]*Transacao2PC, error) {
	rows, err := c.pool.Query(ctx, `SELECT dados FROM transacao_2pc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transacao2PC
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		tx := &Transacao2PC{}
		if err := json.Unmarshal(raw, tx); err != nil {
			configs.Warn(false, "registro de transacao ilegivel")
			continue
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (c *PostgresStore) Publish(ctx context.Context, canal string, payload []byte) error {
	_, err := c.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, canal, string(payload))
	return err
}

func (c *PostgresStore) Subscribe(ctx context.Context, canal string, handler func(canal string, payload []byte)) (func(), error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	quoted := `"` + strings.ReplaceAll(canal, `"`, `""`) + `"`
	if _, err := conn.Exec(subCtx, "LISTEN "+quoted); err != nil {
		cancel()
		conn.Release()
		return nil, err
	}
	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				return
			}
			handler(n.Channel, []byte(n.Payload))
		}
	}()
	return cancel, nil
}

func (c *PostgresStore) Close() error {
	c.pool.Close()
	return nil
}
