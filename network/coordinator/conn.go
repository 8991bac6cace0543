package coordinator

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"cartas/configs"
	"cartas/network"
	"cartas/storage"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Cliente is the HTTP client side of the peer mesh. One instance serves
// all transactions of a node; per-call deadlines come from the protocol
// timeouts, not the caller's context alone.
type Cliente struct {
	http *http.Client
}

func NewCliente() *Cliente {
	return &Cliente{http: &http.Client{Timeout: configs.PeerCallTimeout}}
}

func (c *Cliente) post(ctx context.Context, url string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return errors.Errorf("%s respondeu %d", url, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendPrepare asks a peer to vote on the transaction. Any transport
// failure or non-200 status is an error; the caller turns it into a no.
func (c *Cliente) SendPrepare(ctx context.Context, peer string, tx *storage.Transacao2PC) (*network.Voto2PC, error) {
	voto := &network.Voto2PC{}
	if err := c.post(ctx, peer+network.PrepareEndpoint(tx.TipoOperacao), tx, voto); err != nil {
		return nil, err
	}
	return voto, nil
}

// SendDecide delivers the decision to a peer. A nil return is the ACK.
func (c *Cliente) SendDecide(ctx context.Context, peer string, tipoOperacao string, res *network.Resultado2PC) error {
	return c.post(ctx, peer+network.DecideEndpoint(tipoOperacao), res, nil)
}
